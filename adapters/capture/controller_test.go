package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/soothe-app/soothe/domain/repositories"
	"github.com/soothe-app/soothe/internal/audio"
)

type fakeTrack struct {
	kind    repositories.TrackKind
	stops   int
	mu      sync.Mutex
}

func (t *fakeTrack) Kind() repositories.TrackKind { return t.kind }

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
}

func (t *fakeTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeStream struct {
	tracks []repositories.MediaTrack
	frame  image.Image
}

func (s *fakeStream) Tracks() []repositories.MediaTrack { return s.tracks }

func (s *fakeStream) Frame() (image.Image, error) {
	if s.frame == nil {
		return nil, errors.New("frame not ready")
	}
	return s.frame, nil
}

type fakeDevices struct {
	mu      sync.Mutex
	streams []*fakeStream
	facings []repositories.FacingMode
	failOn  map[repositories.FacingMode]error
}

func (d *fakeDevices) Open(ctx context.Context, constraints repositories.StreamConstraints) (repositories.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failOn[constraints.Facing]; err != nil {
		return nil, err
	}
	stream := &fakeStream{
		tracks: []repositories.MediaTrack{
			&fakeTrack{kind: repositories.TrackVideo},
			&fakeTrack{kind: repositories.TrackAudio},
		},
		frame: image.NewRGBA(image.Rect(0, 0, 8, 8)),
	}
	d.streams = append(d.streams, stream)
	d.facings = append(d.facings, constraints.Facing)
	return stream, nil
}

type fakeGraph struct {
	mu      sync.Mutex
	onBlock func([]float32)
	started bool
	stopped bool
	closed  bool
}

func (g *fakeGraph) Start(stream repositories.MediaStream, onBlock func([]float32)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onBlock = onBlock
	g.started = true
	return nil
}

func (g *fakeGraph) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
}

func (g *fakeGraph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *fakeGraph) deliver(samples []float32) {
	g.mu.Lock()
	onBlock := g.onBlock
	g.mu.Unlock()
	onBlock(samples)
}

func newTestController(devices *fakeDevices, graph *fakeGraph) *Controller {
	return NewController(
		devices,
		func() repositories.AudioProcessor { return graph },
		zap.NewNop(),
		WithSettleDelay(time.Millisecond),
	)
}

func TestStopCameraIdempotent(t *testing.T) {
	devices := &fakeDevices{}
	controller := newTestController(devices, &fakeGraph{})

	if err := controller.StartCamera(context.Background(), repositories.FacingUser); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}

	controller.StopCamera()
	controller.StopCamera()

	if controller.IsStreaming() {
		t.Error("Expected isStreaming=false after stop")
	}
	if controller.Err() != nil {
		t.Errorf("Double stop should not produce an error, got %v", controller.Err())
	}

	// Every track stopped individually, exactly once.
	for i, track := range devices.streams[0].tracks {
		if track.(*fakeTrack).Stops() != 1 {
			t.Errorf("Track %d: expected 1 stop, got %d", i, track.(*fakeTrack).Stops())
		}
	}
}

func TestStartCameraWhileStreamingRejected(t *testing.T) {
	devices := &fakeDevices{}
	controller := newTestController(devices, &fakeGraph{})

	if err := controller.StartCamera(context.Background(), repositories.FacingUser); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	if err := controller.StartCamera(context.Background(), repositories.FacingUser); err == nil {
		t.Error("Second StartCamera without stop should fail")
	}
	if len(devices.streams) != 1 {
		t.Errorf("Overlapping acquisition attempted: %d streams opened", len(devices.streams))
	}
}

func TestStartCameraPermissionFailure(t *testing.T) {
	devices := &fakeDevices{failOn: map[repositories.FacingMode]error{
		repositories.FacingUser: errors.New("permission denied"),
	}}
	controller := newTestController(devices, &fakeGraph{})

	if err := controller.StartCamera(context.Background(), repositories.FacingUser); err == nil {
		t.Fatal("Expected acquisition error")
	}
	if controller.Err() == nil {
		t.Error("Error state should be recorded")
	}
	if controller.IsStreaming() {
		t.Error("Controller should not report streaming after failure")
	}
}

func TestCaptureFrameProducesJPEG(t *testing.T) {
	devices := &fakeDevices{}
	controller := newTestController(devices, &fakeGraph{})

	if _, err := controller.CaptureFrame(); err == nil {
		t.Error("CaptureFrame without a stream should fail")
	}

	if err := controller.StartCamera(context.Background(), repositories.FacingUser); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}

	payload, err := controller.CaptureFrame()
	if err != nil {
		t.Fatalf("CaptureFrame failed: %v", err)
	}

	raw, err := audio.DecodeBase64(payload)
	if err != nil {
		t.Fatalf("Payload is not base64: %v", err)
	}
	// JPEG SOI marker.
	if len(raw) < 2 || raw[0] != 0xff || raw[1] != 0xd8 {
		t.Error("Payload is not a JPEG image")
	}
}

func TestCaptureFrameNotReady(t *testing.T) {
	devices := &fakeDevices{}
	controller := newTestController(devices, &fakeGraph{})

	if err := controller.StartCamera(context.Background(), repositories.FacingUser); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	devices.streams[0].frame = nil

	if _, err := controller.CaptureFrame(); err == nil {
		t.Error("Expected error when no frame is available yet")
	}
}

func TestAudioProcessingChunkConversion(t *testing.T) {
	devices := &fakeDevices{}
	graph := &fakeGraph{}
	controller := newTestController(devices, graph)

	if err := controller.StartCamera(context.Background(), repositories.FacingUser); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}

	var chunks []string
	if err := controller.StartAudioProcessing(func(chunk string) { chunks = append(chunks, chunk) }); err != nil {
		t.Fatalf("StartAudioProcessing failed: %v", err)
	}

	if err := controller.StartAudioProcessing(func(string) {}); err == nil {
		t.Error("Second StartAudioProcessing without stop should fail")
	}

	graph.deliver([]float32{0, 1, -1})

	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	decoded, err := audio.DecodeBase64(chunks[0])
	if err != nil {
		t.Fatalf("Chunk is not base64: %v", err)
	}
	if len(decoded) != 6 {
		t.Errorf("Expected 6 PCM bytes for 3 samples, got %d", len(decoded))
	}

	controller.StopAudioProcessing()
	controller.StopAudioProcessing()
	if !graph.stopped {
		t.Error("Graph should be disconnected after stop")
	}
}

func TestCleanupClosesEverything(t *testing.T) {
	devices := &fakeDevices{}
	graph := &fakeGraph{}
	controller := newTestController(devices, graph)

	if err := controller.StartCamera(context.Background(), repositories.FacingUser); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	if err := controller.StartAudioProcessing(func(string) {}); err != nil {
		t.Fatalf("StartAudioProcessing failed: %v", err)
	}

	controller.Cleanup()
	controller.Cleanup()

	if !graph.stopped || !graph.closed {
		t.Error("Cleanup should stop and close the audio graph")
	}
	if controller.IsStreaming() {
		t.Error("Cleanup should stop the camera")
	}
}

func TestSwitchCameraFlipsFacing(t *testing.T) {
	devices := &fakeDevices{}
	controller := newTestController(devices, &fakeGraph{})

	if err := controller.StartCamera(context.Background(), repositories.FacingUser); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}

	if err := controller.SwitchCamera(context.Background()); err != nil {
		t.Fatalf("SwitchCamera failed: %v", err)
	}
	if controller.Facing() != repositories.FacingEnvironment {
		t.Errorf("Expected facing environment, got %s", controller.Facing())
	}
	if got := devices.facings; len(got) != 2 || got[1] != repositories.FacingEnvironment {
		t.Errorf("Expected second open with environment facing, got %v", got)
	}
}

func TestSwitchCameraRollsBackOnFailure(t *testing.T) {
	devices := &fakeDevices{failOn: map[repositories.FacingMode]error{
		repositories.FacingEnvironment: errors.New("hardware busy"),
	}}
	controller := newTestController(devices, &fakeGraph{})

	if err := controller.StartCamera(context.Background(), repositories.FacingUser); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}

	err := controller.SwitchCamera(context.Background())
	if err == nil {
		t.Fatal("Switch to failing facing should report an error")
	}
	if controller.Facing() != repositories.FacingUser {
		t.Errorf("Expected rollback to user facing, got %s", controller.Facing())
	}
	if !controller.IsStreaming() {
		t.Error("Rollback should leave the original camera running")
	}
}
