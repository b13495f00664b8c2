// Package capture owns camera and microphone acquisition: one media stream,
// one audio processing graph, frame grabs, and the facing-mode switch
// protocol with its hardware-release delays.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soothe-app/soothe/domain/repositories"
	"github.com/soothe-app/soothe/internal/audio"
)

const (
	// jpegQuality matches the capture quality used for frame analysis.
	jpegQuality = 80

	// defaultSettleDelay is how long to wait after releasing camera tracks
	// before reacquiring. Hardware release is asynchronous and unreliable
	// below roughly a second on some mobile devices.
	defaultSettleDelay = time.Second

	defaultWidth      = 1280
	defaultHeight     = 720
	defaultSampleRate = 16000
)

// ErrNotStreaming is returned by operations that require an active stream.
var ErrNotStreaming = errors.New("no active media stream")

// Controller manages exactly one media stream and one audio processing graph.
// All methods are safe for concurrent use.
type Controller struct {
	devices  repositories.MediaDevices
	newGraph func() repositories.AudioProcessor
	logger   *zap.Logger

	settleDelay time.Duration

	mu          sync.Mutex
	stream      repositories.MediaStream
	graph       repositories.AudioProcessor
	facing      repositories.FacingMode
	audioActive bool
	lastErr     error
}

// Option configures a Controller.
type Option func(*Controller)

// WithSettleDelay overrides the hardware-release settling delay.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) { c.settleDelay = d }
}

// NewController creates a controller. newGraph builds a fresh audio
// processing graph per capture session.
func NewController(
	devices repositories.MediaDevices,
	newGraph func() repositories.AudioProcessor,
	logger *zap.Logger,
	opts ...Option,
) *Controller {
	c := &Controller{
		devices:     devices,
		newGraph:    newGraph,
		logger:      logger,
		settleDelay: defaultSettleDelay,
		facing:      repositories.FacingUser,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartCamera acquires camera and microphone with the given facing mode, or
// the last-used one when facing is empty. Acquisition failure is recorded in
// the controller's error state and returned; it never panics. Calling while
// already streaming is an error: an explicit stop must come first so two
// overlapping streams are never requested from the same hardware.
func (c *Controller) StartCamera(ctx context.Context, facing repositories.FacingMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return fmt.Errorf("camera already streaming, stop it before restarting")
	}
	if facing == "" {
		facing = c.facing
	}

	stream, err := c.devices.Open(ctx, repositories.StreamConstraints{
		Facing:     facing,
		Width:      defaultWidth,
		Height:     defaultHeight,
		SampleRate: defaultSampleRate,
	})
	if err != nil {
		c.lastErr = fmt.Errorf("camera access failed: %w", err)
		c.logger.Error("Failed to acquire media stream",
			zap.String("facing", string(facing)),
			zap.Error(err))
		return c.lastErr
	}

	c.stream = stream
	c.facing = facing
	c.lastErr = nil
	c.logger.Info("Media stream acquired", zap.String("facing", string(facing)))
	return nil
}

// StopCamera stops every track on the current stream individually and clears
// state. Safe to call when nothing is running.
func (c *Controller) StopCamera() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCameraLocked()
}

func (c *Controller) stopCameraLocked() {
	if c.stream == nil {
		return
	}
	for _, track := range c.stream.Tracks() {
		track.Stop()
	}
	c.stream = nil
	c.logger.Info("Media stream stopped")
}

// CaptureFrame draws the current video frame to an off-screen raster at the
// video's native resolution and returns it as a base64 JPEG payload.
func (c *Controller) CaptureFrame() (string, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		return "", ErrNotStreaming
	}

	frame, err := stream.Frame()
	if err != nil {
		return "", fmt.Errorf("no video frame available: %w", err)
	}

	canvas := image.NewRGBA(frame.Bounds())
	draw.Draw(canvas, canvas.Bounds(), frame, frame.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("failed to encode frame: %w", err)
	}
	return audio.EncodeBase64(buf.Bytes()), nil
}

// StartAudioProcessing attaches a fresh processing graph to the stream. Every
// delivered sample block is converted to 16-bit PCM, base64 encoded, and
// handed to onChunk. A second start without a matching stop is an error.
func (c *Controller) StartAudioProcessing(onChunk func(pcmBase64 string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return ErrNotStreaming
	}
	if c.audioActive {
		return fmt.Errorf("audio processing already active, stop it before restarting")
	}

	graph := c.newGraph()
	err := graph.Start(c.stream, func(samples []float32) {
		pcm := audio.Float32ToPCM16(samples)
		onChunk(audio.EncodeBase64(audio.PCM16ToBytes(pcm)))
	})
	if err != nil {
		return fmt.Errorf("failed to start audio processing: %w", err)
	}

	c.graph = graph
	c.audioActive = true
	c.logger.Info("Audio processing started")
	return nil
}

// StopAudioProcessing disconnects the processing and source nodes. It never
// panics and is a no-op when audio is not running.
func (c *Controller) StopAudioProcessing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopAudioLocked()
}

func (c *Controller) stopAudioLocked() {
	if !c.audioActive {
		return
	}
	c.graph.Stop()
	c.audioActive = false
	c.logger.Info("Audio processing stopped")
}

// Cleanup stops audio processing, stops the camera, and closes the audio
// processing context. Safe to call from teardown paths multiple times.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopAudioLocked()
	c.stopCameraLocked()

	if c.graph != nil {
		if err := c.graph.Close(); err != nil {
			c.logger.Warn("Failed to close audio graph", zap.Error(err))
		}
		c.graph = nil
	}
}

// SwitchCamera releases the current stream, waits out the hardware settling
// delay, and reacquires with the flipped facing mode. On failure it waits
// again and restarts the original facing so the caller is not left without a
// camera; the switch error is still reported.
func (c *Controller) SwitchCamera(ctx context.Context) error {
	c.mu.Lock()
	previous := c.facing
	target := previous.Flip()
	c.stopCameraLocked()
	c.mu.Unlock()

	if err := c.settle(ctx); err != nil {
		return err
	}

	if err := c.StartCamera(ctx, target); err == nil {
		return nil
	}

	c.logger.Warn("Camera switch failed, rolling back",
		zap.String("target", string(target)),
		zap.String("previous", string(previous)))

	if serr := c.settle(ctx); serr != nil {
		return serr
	}
	if rerr := c.StartCamera(ctx, previous); rerr != nil {
		return fmt.Errorf("camera switch to %s failed and rollback to %s failed: %w", target, previous, rerr)
	}
	return fmt.Errorf("camera switch to %s failed, restored %s", target, previous)
}

// settle waits the hardware-release delay, honoring cancellation.
func (c *Controller) settle(ctx context.Context) error {
	timer := time.NewTimer(c.settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Facing returns the current (or last requested) facing mode.
func (c *Controller) Facing() repositories.FacingMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.facing
}

// IsStreaming reports whether a media stream is active.
func (c *Controller) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Err returns the last acquisition error, cleared on a successful start.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
