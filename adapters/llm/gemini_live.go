// Package llm provides the direct transport to the Gemini Live API: a
// long-lived bidirectional connection carrying realtime image and audio
// input and interleaved response fragments.
package llm

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/soothe-app/soothe/domain/entities"
	"github.com/soothe-app/soothe/domain/repositories"
	"github.com/soothe-app/soothe/internal/audio"
)

const (
	frameMIMEType = "image/jpeg"
	audioMIMEType = "audio/pcm;rate=16000"
)

// GeminiLive implements repositories.LiveTransport over google.golang.org/genai.
type GeminiLive struct {
	client *genai.Client
	logger *zap.Logger
}

var _ repositories.LiveTransport = (*GeminiLive)(nil)

// NewGeminiLive creates a direct transport. The API key comes from the
// GEMINI_API_KEY environment variable.
func NewGeminiLive(ctx context.Context, logger *zap.Logger) (*GeminiLive, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiLive{client: client, logger: logger}, nil
}

// Open connects a live session with the given configuration and starts the
// receive pump feeding the session's message channel.
func (g *GeminiLive) Open(ctx context.Context, config repositories.SessionConfig) (repositories.LiveSession, error) {
	connectConfig := &genai.LiveConnectConfig{
		ResponseModalities: toModalities(config.ResponseModalities),
	}
	if config.SystemInstruction != "" {
		connectConfig.SystemInstruction = genai.NewContentFromText(config.SystemInstruction, genai.RoleUser)
	}
	if config.InputAudioTranscription {
		connectConfig.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if config.OutputAudioTranscription {
		connectConfig.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}

	upstream, err := g.client.Live.Connect(ctx, config.Model, connectConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open live session: %w", err)
	}

	session := &liveSession{
		id:       uuid.New().String(),
		upstream: upstream,
		logger:   g.logger,
		messages: make(chan entities.ServerMessage, 64),
	}
	go session.receive()

	g.logger.Info("Live session opened",
		zap.String("session_id", session.id),
		zap.String("model", config.Model))
	return session, nil
}

func toModalities(names []string) []genai.Modality {
	modalities := make([]genai.Modality, 0, len(names))
	for _, name := range names {
		switch name {
		case "AUDIO":
			modalities = append(modalities, genai.ModalityAudio)
		case "TEXT":
			modalities = append(modalities, genai.ModalityText)
		}
	}
	return modalities
}

type liveSession struct {
	id       string
	upstream *genai.Session
	logger   *zap.Logger
	messages chan entities.ServerMessage

	closeOnce sync.Once
}

var _ repositories.LiveSession = (*liveSession)(nil)

func (s *liveSession) ID() string { return s.id }

func (s *liveSession) SendVideoFrame(ctx context.Context, jpegBase64 string) error {
	data, err := audio.DecodeBase64(jpegBase64)
	if err != nil {
		return fmt.Errorf("invalid frame payload: %w", err)
	}
	if err := s.upstream.SendRealtimeInput(genai.LiveRealtimeInput{
		Video: &genai.Blob{Data: data, MIMEType: frameMIMEType},
	}); err != nil {
		return fmt.Errorf("failed to send video frame: %w", err)
	}
	return nil
}

func (s *liveSession) SendAudioChunk(ctx context.Context, pcmBase64 string) error {
	data, err := audio.DecodeBase64(pcmBase64)
	if err != nil {
		return fmt.Errorf("invalid audio payload: %w", err)
	}
	if err := s.upstream.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: data, MIMEType: audioMIMEType},
	}); err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	return nil
}

func (s *liveSession) Messages() <-chan entities.ServerMessage {
	return s.messages
}

func (s *liveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.upstream.Close()
	})
	return err
}

// receive pumps inbound wire messages into the session channel, decoding
// each once at the boundary. A receive error or remote close ends the pump
// and closes the channel so consumers run their normal teardown.
func (s *liveSession) receive() {
	defer close(s.messages)

	for {
		wire, err := s.upstream.Receive()
		if err != nil {
			s.logger.Warn("Live session receive ended",
				zap.String("session_id", s.id),
				zap.Error(err))
			return
		}

		msg := DecodeServerMessage(wire)
		if len(msg.Fragments) == 0 {
			continue
		}
		s.messages <- msg
	}
}

// DecodeServerMessage converts one wire message into ordered tagged
// fragments. Parts the engine does not consume (file references) are kept as
// their own variant so nothing is silently discarded.
func DecodeServerMessage(wire *genai.LiveServerMessage) entities.ServerMessage {
	var msg entities.ServerMessage
	content := wire.ServerContent
	if content == nil {
		return msg
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				msg.Fragments = append(msg.Fragments, entities.TextFragment{Text: part.Text})
			}
			if part.InlineData != nil {
				msg.Fragments = append(msg.Fragments, entities.AudioFragment{
					Data:     audio.EncodeBase64(part.InlineData.Data),
					MIMEType: part.InlineData.MIMEType,
				})
			}
			if part.FileData != nil {
				msg.Fragments = append(msg.Fragments, entities.FileReference{
					URI:      part.FileData.FileURI,
					MIMEType: part.FileData.MIMEType,
				})
			}
		}
	}

	if content.TurnComplete {
		msg.Fragments = append(msg.Fragments, entities.TurnComplete{})
	}
	return msg
}
