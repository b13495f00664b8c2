// Package turns reassembles interleaved response fragments into discrete
// conversational turns and triggers playback and text updates exactly once
// per turn.
package turns

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/soothe-app/soothe/domain/entities"
	"github.com/soothe-app/soothe/domain/repositories"
)

// State is the engine's per-session state.
type State string

const (
	// StateIdle means the engine sits between turns; it is the initial state.
	StateIdle State = "idle"
	// StateAccumulating means a partial turn is being assembled.
	StateAccumulating State = "accumulating"
)

// Engine drains one session's inbound messages into turns. Text fragments
// surface incrementally through the OnText callback (the live typing effect);
// audio fragments accumulate until the completion flag, then flow to the
// player in one atomic flush.
type Engine struct {
	player repositories.TurnPlayer
	logger *zap.Logger

	// OnText receives the accumulated turn text after every text fragment.
	OnText func(text string)

	mu      sync.Mutex
	state   State
	current *entities.Turn
	flushed int
}

// NewEngine creates an engine in the idle state.
func NewEngine(player repositories.TurnPlayer, logger *zap.Logger) *Engine {
	return &Engine{
		player: player,
		logger: logger,
		state:  StateIdle,
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Text returns the accumulated text of the turn in progress, or of the last
// completed turn until a new one starts. It is the caller's display artifact;
// the engine never clears it on completion.
func (e *Engine) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return ""
	}
	return e.current.Text()
}

// FlushedTurns returns how many turns have completed since creation.
func (e *Engine) FlushedTurns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushed
}

// ErrStreamEnded reports that the message channel closed before another
// turn completed. Partial fragments are dropped, never played.
var ErrStreamEnded = errors.New("message stream ended")

// DrainTurn consumes messages until one full turn completes, the channel
// closes, or the context is cancelled. It blocks on channel receive rather
// than spinning; cancellation is the explicit context, not a nulled handle.
// Safe to invoke once per capture tick.
func (e *Engine) DrainTurn(ctx context.Context, messages <-chan entities.ServerMessage) error {
	for {
		select {
		case <-ctx.Done():
			e.abandon("drain cancelled")
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				e.abandon("session closed")
				return ErrStreamEnded
			}
			if done := e.apply(msg); done {
				return nil
			}
		}
	}
}

// apply folds one inbound message into the current turn. Returns true when
// the message completed the turn.
func (e *Engine) apply(msg entities.ServerMessage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, fragment := range msg.Fragments {
		switch f := fragment.(type) {
		case entities.TextFragment:
			e.beginTurnLocked()
			e.current.AppendText(f.Text)
			if e.OnText != nil {
				e.OnText(e.current.Text())
			}

		case entities.AudioFragment:
			e.beginTurnLocked()
			e.current.AppendAudio(f)

		case entities.FileReference:
			e.logger.Debug("Ignoring file reference fragment",
				zap.String("uri", f.URI),
				zap.String("mime_type", f.MIMEType))

		case entities.TurnComplete:
			e.completeTurnLocked()
			return true
		}
	}
	return false
}

// beginTurnLocked starts a fresh turn when the previous one has completed.
func (e *Engine) beginTurnLocked() {
	if e.current == nil || e.current.Completed() {
		e.current = &entities.Turn{}
	}
	e.state = StateAccumulating
}

// completeTurnLocked flushes the turn's audio to the player exactly once and
// returns the engine to idle. A completion with no accumulated audio creates
// no playback resource.
func (e *Engine) completeTurnLocked() {
	if e.current == nil {
		// TurnComplete with no prior fragments; nothing to flush.
		e.state = StateIdle
		return
	}

	audio := e.current.Flush()
	e.flushed++
	e.state = StateIdle

	if len(audio) == 0 {
		return
	}

	if err := e.player.Play(audio); err != nil {
		e.logger.Error("Failed to play turn audio",
			zap.Int("fragments", len(audio)),
			zap.Error(err))
	}
}

// abandon discards a partial turn on teardown. Fragments that never saw a
// completion flag are dropped, never played; the loss is logged so partial
// network failures stay visible.
func (e *Engine) abandon(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && !e.current.Completed() && e.current.AudioCount() > 0 {
		e.logger.Warn("Dropping audio fragments from incomplete turn",
			zap.String("reason", reason),
			zap.Int("fragments", e.current.AudioCount()))
	}
	e.current = nil
	e.state = StateIdle
}
