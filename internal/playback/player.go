// Package playback reconstructs a completed turn's audio fragments into a
// single WAV resource and plays it, tracking each resource until release.
package playback

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/soothe-app/soothe/domain/entities"
	"github.com/soothe-app/soothe/domain/repositories"
	"github.com/soothe-app/soothe/internal/audio"
)

// Pipeline implements repositories.TurnPlayer. Every Play call produces an
// independent playable resource; overlapping playback across turns is
// allowed, but each resource is tracked and released individually.
type Pipeline struct {
	sink   repositories.AudioSink
	logger *zap.Logger

	mu     sync.Mutex
	nextID int
	active map[int]repositories.PlaybackHandle
	wg     sync.WaitGroup
}

var _ repositories.TurnPlayer = (*Pipeline)(nil)

// NewPipeline creates a playback pipeline writing to the given sink.
func NewPipeline(sink repositories.AudioSink, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		sink:   sink,
		logger: logger,
		active: make(map[int]repositories.PlaybackHandle),
	}
}

// Play converts the ordered fragments of one turn into a WAV buffer and
// starts playback. The first fragment's mime type decides the format; all
// fragments of one turn share it. Empty fragment lists are a no-op.
func (p *Pipeline) Play(fragments []entities.AudioFragment) error {
	if len(fragments) == 0 {
		return nil
	}

	mimeType := fragments[0].MIMEType
	payloads := make([]string, len(fragments))
	for i, f := range fragments {
		payloads[i] = f.Data
	}

	wav, skipped, err := audio.ConvertToWAV(payloads, mimeType)
	if skipped > 0 {
		p.logger.Warn("Skipped undecodable audio fragments",
			zap.Int("skipped", skipped),
			zap.Int("total", len(fragments)))
	}
	if err != nil {
		return fmt.Errorf("failed to build WAV from turn audio: %w", err)
	}

	handle, err := p.sink.Open(wav)
	if err != nil {
		return fmt.Errorf("failed to open playback resource: %w", err)
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.active[id] = handle
	p.mu.Unlock()

	p.logger.Debug("Playback started",
		zap.Int("resource_id", id),
		zap.Int("fragments", len(fragments)),
		zap.Int("wav_bytes", len(wav)))

	p.wg.Add(1)
	go p.watch(id, handle)

	return nil
}

// watch waits for playback to finish and releases the resource whether it
// completed or errored, so no handle dangles.
func (p *Pipeline) watch(id int, handle repositories.PlaybackHandle) {
	defer p.wg.Done()

	err := <-handle.Done()
	handle.Release()

	p.mu.Lock()
	delete(p.active, id)
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("Playback ended with error",
			zap.Int("resource_id", id),
			zap.Error(err))
		return
	}
	p.logger.Debug("Playback completed", zap.Int("resource_id", id))
}

// ActiveCount returns the number of resources currently playing.
func (p *Pipeline) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Wait blocks until every started playback has been released. Used by tests
// and teardown paths.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
