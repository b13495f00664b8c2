package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/soothe-app/soothe/domain/entities"
	"github.com/soothe-app/soothe/domain/repositories"
	"github.com/soothe-app/soothe/internal/metrics"
)

type fakeUpstream struct {
	id       string
	messages chan entities.ServerMessage

	mu     sync.Mutex
	frames []string
	audio  []string
	closed bool
}

func (f *fakeUpstream) ID() string { return f.id }

func (f *fakeUpstream) SendVideoFrame(ctx context.Context, jpegBase64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, jpegBase64)
	return nil
}

func (f *fakeUpstream) SendAudioChunk(ctx context.Context, pcmBase64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, pcmBase64)
	return nil
}

func (f *fakeUpstream) Messages() <-chan entities.ServerMessage { return f.messages }

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.messages)
	}
	return nil
}

func (f *fakeUpstream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeTransport struct {
	mu       sync.Mutex
	nextID   int
	sessions []*fakeUpstream
}

func (t *fakeTransport) Open(ctx context.Context, config repositories.SessionConfig) (repositories.LiveSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	upstream := &fakeUpstream{
		id:       string(rune('a' + t.nextID)),
		messages: make(chan entities.ServerMessage, 16),
	}
	t.sessions = append(t.sessions, upstream)
	return upstream, nil
}

func newTestRegistry(t *testing.T, transport *fakeTransport, opts ...Option) *Registry {
	t.Helper()
	registry := NewRegistry(transport, metrics.NewNop(), zap.NewNop(), opts...)
	t.Cleanup(registry.Stop)
	return registry
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRegistryDrainPreservesOrder(t *testing.T) {
	transport := &fakeTransport{}
	registry := newTestRegistry(t, transport)

	id, err := registry.Create(context.Background(), repositories.SessionConfig{Model: "gemini-2.0-flash-live-001"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	upstream := transport.sessions[0]
	upstream.messages <- entities.ServerMessage{Fragments: []entities.Fragment{entities.TextFragment{Text: "one"}}}
	upstream.messages <- entities.ServerMessage{Fragments: []entities.Fragment{entities.TextFragment{Text: "two"}}}

	var drained []entities.ServerMessage
	waitFor(t, time.Second, func() bool {
		msgs, _, err := registry.Drain(id)
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		drained = append(drained, msgs...)
		return len(drained) == 2
	})

	first := drained[0].Fragments[0].(entities.TextFragment)
	second := drained[1].Fragments[0].(entities.TextFragment)
	if first.Text != "one" || second.Text != "two" {
		t.Errorf("Expected FIFO order one,two got %q,%q", first.Text, second.Text)
	}

	if msgs, _, _ := registry.Drain(id); len(msgs) != 0 {
		t.Errorf("Second drain should be empty, got %d messages", len(msgs))
	}
}

func TestRegistryCloseEvicts(t *testing.T) {
	transport := &fakeTransport{}
	registry := newTestRegistry(t, transport)

	id, err := registry.Create(context.Background(), repositories.SessionConfig{Model: "m"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := registry.Close(id); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if registry.ActiveCount() != 0 {
		t.Errorf("Expected 0 active sessions, got %d", registry.ActiveCount())
	}
	if !transport.sessions[0].isClosed() {
		t.Error("Upstream session should be closed")
	}
	if _, _, err := registry.Drain(id); err != ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound after close, got %v", err)
	}
	if err := registry.Close(id); err != ErrSessionNotFound {
		t.Errorf("Double close should report not found, got %v", err)
	}
}

func TestRegistryIdleEviction(t *testing.T) {
	transport := &fakeTransport{}
	registry := newTestRegistry(t, transport,
		WithIdleTTL(20*time.Millisecond),
		WithSweepInterval(10*time.Millisecond))

	if _, err := registry.Create(context.Background(), repositories.SessionConfig{Model: "m"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return registry.ActiveCount() == 0 })

	if !transport.sessions[0].isClosed() {
		t.Error("Idle eviction should close the upstream session")
	}
}

func TestRegistryDrainReportsUpstreamClose(t *testing.T) {
	transport := &fakeTransport{}
	registry := newTestRegistry(t, transport)

	id, err := registry.Create(context.Background(), repositories.SessionConfig{Model: "m"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	upstream := transport.sessions[0]
	upstream.messages <- entities.ServerMessage{Fragments: []entities.Fragment{entities.TurnComplete{}}}
	upstream.Close()

	waitFor(t, time.Second, func() bool {
		_, closed, err := registry.Drain(id)
		return err == nil && closed
	})
}

func TestRegistrySendForwardsToUpstream(t *testing.T) {
	transport := &fakeTransport{}
	registry := newTestRegistry(t, transport)

	id, err := registry.Create(context.Background(), repositories.SessionConfig{Model: "m"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := registry.SendFrame(context.Background(), id, "ZnJhbWU="); err != nil {
		t.Fatalf("SendFrame failed: %v", err)
	}
	if err := registry.SendAudio(context.Background(), id, "cGNt"); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}

	upstream := transport.sessions[0]
	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	if len(upstream.frames) != 1 || len(upstream.audio) != 1 {
		t.Errorf("Expected 1 frame and 1 audio chunk forwarded, got %d/%d",
			len(upstream.frames), len(upstream.audio))
	}
}
