package repositories

import (
	"context"

	"github.com/soothe-app/soothe/domain/entities"
)

// SessionConfig is the configuration payload for opening a live session.
type SessionConfig struct {
	Model                    string   `json:"model"`
	ResponseModalities       []string `json:"response_modalities"`
	SystemInstruction        string   `json:"system_instruction"`
	InputAudioTranscription  bool     `json:"input_audio_transcription,omitempty"`
	OutputAudioTranscription bool     `json:"output_audio_transcription,omitempty"`
}

// LiveTransport opens bidirectional sessions against the remote generative
// service. Two implementations exist: a direct persistent connection, and a
// proxied create/poll/send/close client for environments without duplex HTTP.
type LiveTransport interface {
	Open(ctx context.Context, config SessionConfig) (LiveSession, error)
}

// LiveSession is one open session. Frame and audio sends are independent
// streams multiplexed onto the session; each stream's internal order is
// preserved but interleaving between them is not guaranteed.
//
// Messages delivers inbound server messages strictly in arrival order. The
// channel is closed when the session ends, whether by Close or by a remote
// error, so consumers run the same teardown path either way.
type LiveSession interface {
	ID() string

	// SendVideoFrame sends one base64 JPEG frame as realtime input.
	SendVideoFrame(ctx context.Context, jpegBase64 string) error

	// SendAudioChunk sends one base64 16-bit PCM chunk as realtime input.
	SendAudioChunk(ctx context.Context, pcmBase64 string) error

	Messages() <-chan entities.ServerMessage

	Close() error
}
