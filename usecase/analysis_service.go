package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soothe-app/soothe/adapters/capture"
	"github.com/soothe-app/soothe/domain/repositories"
	"github.com/soothe-app/soothe/internal/turns"
)

// State is the analysis lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateAnalyzing  State = "analyzing"
	StateStopping   State = "stopping"
)

const defaultFrameInterval = 2 * time.Second

// AnalysisService coordinates one guided-session analysis: it owns the live
// session, feeds it captured frames and microphone audio, and drains the
// inbound stream into turns. Exactly one session, one frame timer, and one
// audio graph are active per instance; every teardown path converges on the
// same stop routine.
type AnalysisService struct {
	transport  repositories.LiveTransport
	controller *capture.Controller
	engine     *turns.Engine
	logger     *zap.Logger

	frameInterval time.Duration

	mu         sync.Mutex
	state      State
	session    repositories.LiveSession
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	lastErr    string
	lastConfig repositories.SessionConfig
}

type AnalysisOption func(*AnalysisService)

// WithFrameInterval overrides the frame capture cadence.
func WithFrameInterval(d time.Duration) AnalysisOption {
	return func(s *AnalysisService) { s.frameInterval = d }
}

// NewAnalysisService creates a new analysis service.
func NewAnalysisService(
	transport repositories.LiveTransport,
	controller *capture.Controller,
	engine *turns.Engine,
	logger *zap.Logger,
	opts ...AnalysisOption,
) *AnalysisService {
	s := &AnalysisService{
		transport:     transport,
		controller:    controller,
		engine:        engine,
		logger:        logger,
		frameInterval: defaultFrameInterval,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginAnalysis opens a live session and starts the frame timer and the
// continuous audio stream. The state becomes analyzing only after the open
// succeeds; on failure it returns to idle and the error is surfaced.
func (s *AnalysisService) BeginAnalysis(ctx context.Context, config repositories.SessionConfig) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot begin analysis while %s", state)
	}
	if !s.controller.IsStreaming() {
		s.mu.Unlock()
		return capture.ErrNotStreaming
	}
	s.state = StateConnecting
	s.lastErr = ""
	s.lastConfig = config
	s.mu.Unlock()

	session, err := s.transport.Open(ctx, config)
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.lastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("failed to open live session: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.session = session
	s.cancel = cancel
	s.state = StateAnalyzing
	s.mu.Unlock()

	s.wg.Add(2)
	go s.frameLoop(runCtx, session)
	go s.drainLoop(runCtx, session)

	if err := s.controller.StartAudioProcessing(func(pcmBase64 string) {
		s.sendAudio(runCtx, session, pcmBase64)
	}); err != nil {
		s.logger.Error("Failed to start audio processing", zap.Error(err))
		s.stop(err.Error())
		s.wg.Wait()
		return fmt.Errorf("failed to start audio processing: %w", err)
	}

	s.logger.Info("Analysis started",
		zap.String("session_id", session.ID()),
		zap.String("model", config.Model))
	return nil
}

// EndAnalysis stops the frame timer, then audio processing, then closes the
// session. Safe to call when no analysis is running.
func (s *AnalysisService) EndAnalysis() {
	s.stop("")
	s.wg.Wait()
}

// Cleanup is the converged teardown for unmount paths: it ends any running
// analysis and releases camera and audio hardware.
func (s *AnalysisService) Cleanup() {
	s.EndAnalysis()
	s.controller.Cleanup()
}

// SwitchCamera flips the facing mode. An active analysis is fully stopped
// first — capture loop, audio processing, session — so the hardware swap
// never races in-flight sends; it restarts once the new stream is up.
// A failed flip rolls back to the previous facing inside the controller
// rather than leaving the user without a camera; the switch error is
// still reported even when analysis resumes on the restored stream.
func (s *AnalysisService) SwitchCamera(ctx context.Context) error {
	wasAnalyzing := s.IsAnalyzing()
	if wasAnalyzing {
		s.EndAnalysis()
	}

	switchErr := s.controller.SwitchCamera(ctx)
	if switchErr != nil {
		s.mu.Lock()
		s.lastErr = switchErr.Error()
		s.mu.Unlock()
	}

	if wasAnalyzing && s.controller.IsStreaming() {
		s.mu.Lock()
		config := s.lastConfig
		s.mu.Unlock()
		if err := s.BeginAnalysis(ctx, config); err != nil {
			return err
		}
	}
	return switchErr
}

// State returns the current lifecycle state.
func (s *AnalysisService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsAnalyzing reports whether a session is live.
func (s *AnalysisService) IsAnalyzing() bool {
	return s.State() == StateAnalyzing
}

// Err returns the last surfaced error message, empty when none.
func (s *AnalysisService) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// stop cancels the loops, stops audio capture, and closes the session, in
// that order. It never blocks on the worker goroutines so the drain loop can
// invoke it on transport failure without deadlocking.
func (s *AnalysisService) stop(reason string) {
	s.mu.Lock()
	if s.state != StateAnalyzing && s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	session := s.session
	cancel := s.cancel
	s.session = nil
	s.cancel = nil
	if reason != "" {
		s.lastErr = reason
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.controller.StopAudioProcessing()
	if session != nil {
		if err := session.Close(); err != nil {
			s.logger.Warn("Failed to close live session", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	if reason != "" {
		s.logger.Warn("Analysis stopped", zap.String("reason", reason))
	} else {
		s.logger.Info("Analysis stopped")
	}
}

// frameLoop captures and sends one frame per tick. Capture and send
// failures are transient: logged, skipped, retried naturally next tick.
func (s *AnalysisService) frameLoop(ctx context.Context, session repositories.LiveSession) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := s.controller.CaptureFrame()
			if err != nil {
				s.logger.Warn("Frame capture failed, skipping tick", zap.Error(err))
				continue
			}
			if err := session.SendVideoFrame(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("Frame send failed, skipping tick", zap.Error(err))
			}
		}
	}
}

// drainLoop reassembles turns until cancellation or the session ends. A
// stream that ends while we are still analyzing is a transport failure and
// triggers the converged teardown.
func (s *AnalysisService) drainLoop(ctx context.Context, session repositories.LiveSession) {
	defer s.wg.Done()

	for {
		err := s.engine.DrainTurn(ctx, session.Messages())
		switch {
		case err == nil:
			continue
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			return
		case errors.Is(err, turns.ErrStreamEnded):
			s.logger.Error("Live session ended unexpectedly")
			s.stop("live session ended unexpectedly")
			return
		default:
			s.logger.Error("Turn drain failed", zap.Error(err))
			s.stop(err.Error())
			return
		}
	}
}

func (s *AnalysisService) sendAudio(ctx context.Context, session repositories.LiveSession, pcmBase64 string) {
	if ctx.Err() != nil {
		return
	}
	if err := session.SendAudioChunk(ctx, pcmBase64); err != nil {
		if ctx.Err() != nil {
			return
		}
		// One failed chunk must not corrupt the session for later sends.
		s.logger.Warn("Audio chunk send failed", zap.Error(err))
	}
}
