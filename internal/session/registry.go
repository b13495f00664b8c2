// Package session holds the proxy-side registry of live upstream sessions.
// The registry is an explicit object passed to its consumers, keyed by
// session id, with explicit eviction on close plus an idle sweep so a missed
// close can never grow the table without bound.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soothe-app/soothe/domain/entities"
	"github.com/soothe-app/soothe/domain/repositories"
	"github.com/soothe-app/soothe/internal/metrics"
)

const (
	defaultIdleTTL       = 5 * time.Minute
	defaultSweepInterval = 30 * time.Second
)

// ErrSessionNotFound is returned for unknown or already evicted sessions.
var ErrSessionNotFound = errors.New("session not found")

// Registry buffers inbound messages per session on behalf of callers that
// poll instead of holding the duplex connection themselves.
type Registry struct {
	transport repositories.LiveTransport
	logger    *zap.Logger
	metrics   *metrics.Metrics

	idleTTL       time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	cancel context.CancelFunc
	done   chan struct{}
}

type entry struct {
	record   *entities.Session
	upstream repositories.LiveSession

	mu      sync.Mutex
	pending []entities.ServerMessage
	closed  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithIdleTTL overrides the idle eviction threshold.
func WithIdleTTL(d time.Duration) Option {
	return func(r *Registry) { r.idleTTL = d }
}

// WithSweepInterval overrides how often the idle sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepInterval = d }
}

// NewRegistry creates a registry and starts its eviction sweep.
func NewRegistry(transport repositories.LiveTransport, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		transport:     transport,
		logger:        logger,
		metrics:       m,
		idleTTL:       defaultIdleTTL,
		sweepInterval: defaultSweepInterval,
		entries:       make(map[string]*entry),
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.sweep(ctx)
	return r
}

// Create opens an upstream session and starts buffering its inbound
// messages. Returns the session id callers use for subsequent requests.
func (r *Registry) Create(ctx context.Context, config repositories.SessionConfig) (string, error) {
	upstream, err := r.transport.Open(ctx, config)
	if err != nil {
		return "", fmt.Errorf("failed to open upstream session: %w", err)
	}

	record := entities.NewSession(upstream.ID(), config.Model)
	record.MarkOpen()

	e := &entry{record: record, upstream: upstream}

	r.mu.Lock()
	r.entries[record.ID] = e
	r.mu.Unlock()
	r.metrics.SessionsActive.Inc()

	go r.pump(e)

	r.logger.Info("Proxy session created",
		zap.String("session_id", record.ID),
		zap.String("model", config.Model))
	return record.ID, nil
}

// pump moves upstream messages into the entry's FIFO buffer until the
// upstream channel closes, then marks the session closed so pollers drain
// the remainder and stop.
func (r *Registry) pump(e *entry) {
	for msg := range e.upstream.Messages() {
		for _, fragment := range msg.Fragments {
			r.metrics.InboundFragments.WithLabelValues(fragmentKind(fragment)).Inc()
		}
		e.mu.Lock()
		e.pending = append(e.pending, msg)
		e.record.Touch()
		e.mu.Unlock()
	}

	e.mu.Lock()
	e.closed = true
	e.record.MarkClosed()
	e.mu.Unlock()
}

func fragmentKind(f entities.Fragment) string {
	switch f.(type) {
	case entities.TextFragment:
		return "text"
	case entities.AudioFragment:
		return "audio"
	case entities.FileReference:
		return "file"
	case entities.TurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// SendFrame forwards one base64 JPEG frame to the upstream session.
func (r *Registry) SendFrame(ctx context.Context, id, jpegBase64 string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := e.upstream.SendVideoFrame(ctx, jpegBase64); err != nil {
		r.metrics.SendErrors.Inc()
		return err
	}
	r.touch(e)
	return nil
}

// SendAudio forwards one base64 PCM chunk to the upstream session.
func (r *Registry) SendAudio(ctx context.Context, id, pcmBase64 string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := e.upstream.SendAudioChunk(ctx, pcmBase64); err != nil {
		r.metrics.SendErrors.Inc()
		return err
	}
	r.touch(e)
	return nil
}

// Drain returns and clears the buffered messages for a session, preserving
// arrival order. closed reports that the upstream has ended and no further
// messages will arrive once the returned slice is consumed.
func (r *Registry) Drain(id string) (msgs []entities.ServerMessage, closed bool, err error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, false, err
	}

	e.mu.Lock()
	msgs = e.pending
	e.pending = nil
	closed = e.closed
	e.record.Touch()
	e.mu.Unlock()
	return msgs, closed, nil
}

// Close tears down a session and evicts it from the registry.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	r.metrics.SessionsActive.Dec()
	e.record.MarkClosing()
	if err := e.upstream.Close(); err != nil {
		r.logger.Warn("Failed to close upstream session",
			zap.String("session_id", id),
			zap.Error(err))
	}
	e.record.MarkClosed()
	r.logger.Info("Proxy session closed", zap.String("session_id", id))
	return nil
}

// Exists reports whether a session is currently registered, without
// consuming its buffered messages.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// ActiveCount returns the number of registered sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop closes every session and stops the sweep goroutine.
func (r *Registry) Stop() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Close(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			r.logger.Warn("Failed to close session during shutdown",
				zap.String("session_id", id),
				zap.Error(err))
		}
	}

	r.cancel()
	<-r.done
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (r *Registry) touch(e *entry) {
	e.mu.Lock()
	e.record.Touch()
	e.mu.Unlock()
}

// sweep evicts sessions idle past the TTL so a caller that never sent the
// explicit close cannot leak an upstream connection.
func (r *Registry) sweep(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() {
	r.mu.Lock()
	var expired []string
	for id, e := range r.entries {
		e.mu.Lock()
		idle := e.record.IdleLongerThan(r.idleTTL)
		e.mu.Unlock()
		if idle {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.logger.Info("Evicting idle session", zap.String("session_id", id))
		if err := r.Close(id); err == nil {
			r.metrics.SessionsEvicted.Inc()
		}
	}
}
