package repositories

import "github.com/soothe-app/soothe/domain/entities"

// TurnPlayer consumes the ordered audio fragments of one completed turn.
// Each call produces an independent playable resource; calls never share
// state so overlapping playback across turns is safe.
type TurnPlayer interface {
	Play(fragments []entities.AudioFragment) error
}

// AudioSink opens playable resources from finished WAV buffers. Done resolves
// when playback completes or fails; Release must be called exactly once per
// handle so no resource reference dangles.
type AudioSink interface {
	Open(wav []byte) (PlaybackHandle, error)
}

// PlaybackHandle tracks one playing resource.
type PlaybackHandle interface {
	Done() <-chan error
	Release()
}
