// Package proxyclient implements the live transport against a soothe
// proxy server using the create/poll/send/close request pattern, for
// callers that cannot hold a persistent duplex connection themselves.
package proxyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soothe-app/soothe/domain/entities"
	"github.com/soothe-app/soothe/domain/repositories"
	"github.com/soothe-app/soothe/internal/api"
	"github.com/soothe-app/soothe/internal/wire"
)

// pollInterval paces the short-poll drain loop.
const pollInterval = 100 * time.Millisecond

// Client opens proxied live sessions over plain HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

// NewClient creates a proxied transport against baseURL, authenticating
// every request with the given bearer token.
func NewClient(baseURL, token string, logger *zap.Logger, opts ...Option) *Client {
	client := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Open issues a create-session request and starts the poll loop.
func (c *Client) Open(ctx context.Context, config repositories.SessionConfig) (repositories.LiveSession, error) {
	resp, err := c.post(ctx, api.LiveRequest{
		Action: api.ActionCreateSession,
		Config: &api.SessionSetup{
			Model:                    config.Model,
			ResponseModalities:       config.ResponseModalities,
			SystemInstruction:        config.SystemInstruction,
			InputAudioTranscription:  config.InputAudioTranscription,
			OutputAudioTranscription: config.OutputAudioTranscription,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create proxied session: %w", err)
	}
	if !resp.Success || resp.SessionID == "" {
		return nil, fmt.Errorf("proxy rejected session create: %s", resp.Error)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	session := &proxiedSession{
		client:   c,
		id:       resp.SessionID,
		messages: make(chan entities.ServerMessage, 64),
		cancel:   cancel,
		logger:   c.logger.With(zap.String("session_id", resp.SessionID)),
	}
	go session.pollLoop(pollCtx)

	c.logger.Info("Proxied session opened",
		zap.String("session_id", resp.SessionID),
		zap.String("model", config.Model))
	return session, nil
}

func (c *Client) post(ctx context.Context, reqBody api.LiveRequest) (*api.LiveResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/live", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp api.LiveResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		if resp.Error != "" {
			return nil, fmt.Errorf("proxy returned %d: %s", httpResp.StatusCode, resp.Error)
		}
		return nil, fmt.Errorf("proxy returned %d", httpResp.StatusCode)
	}
	return &resp, nil
}

// proxiedSession is one open session held by the proxy on our behalf.
type proxiedSession struct {
	client   *Client
	id       string
	messages chan entities.ServerMessage
	cancel   context.CancelFunc
	logger   *zap.Logger

	closeOnce sync.Once
}

func (s *proxiedSession) ID() string { return s.id }

func (s *proxiedSession) SendVideoFrame(ctx context.Context, jpegBase64 string) error {
	return s.sendInput(ctx, api.RealtimeInput{
		Image: &wire.InlineData{Data: jpegBase64, MIMEType: "image/jpeg"},
	})
}

func (s *proxiedSession) SendAudioChunk(ctx context.Context, pcmBase64 string) error {
	return s.sendInput(ctx, api.RealtimeInput{
		Audio: &wire.InlineData{Data: pcmBase64, MIMEType: "audio/pcm;rate=16000"},
	})
}

func (s *proxiedSession) sendInput(ctx context.Context, input api.RealtimeInput) error {
	resp, err := s.client.post(ctx, api.LiveRequest{
		Action:    api.ActionSendInput,
		SessionID: s.id,
		Input:     &input,
	})
	if err != nil {
		return fmt.Errorf("failed to send input: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("proxy rejected input: %s", resp.Error)
	}
	return nil
}

func (s *proxiedSession) Messages() <-chan entities.ServerMessage {
	return s.messages
}

// Close stops the poll loop and asks the proxy to release the session.
func (s *proxiedSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()

		ctx, cancelReq := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelReq()
		_, err = s.client.post(ctx, api.LiveRequest{
			Action:    api.ActionCloseSession,
			SessionID: s.id,
		})
		if err != nil {
			s.logger.Warn("Failed to close proxied session", zap.Error(err))
		}
	})
	return err
}

// pollLoop drains the proxy buffer until cancellation or remote close.
// The messages channel closes on exit so consumers converge on the same
// teardown path as the direct transport.
func (s *proxiedSession) pollLoop(ctx context.Context) {
	defer close(s.messages)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := s.client.post(ctx, api.LiveRequest{
				Action:    api.ActionGetMessages,
				SessionID: s.id,
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("Poll failed, ending session", zap.Error(err))
				return
			}

			for _, msg := range resp.Messages {
				decoded := wire.Decode(msg)
				if len(decoded.Fragments) == 0 {
					continue
				}
				select {
				case s.messages <- decoded:
				case <-ctx.Done():
					return
				}
			}

			if resp.SessionClosed {
				s.logger.Info("Proxy reported session closed")
				return
			}
		}
	}
}

var _ repositories.LiveTransport = (*Client)(nil)
var _ repositories.LiveSession = (*proxiedSession)(nil)
