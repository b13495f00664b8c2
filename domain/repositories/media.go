package repositories

import (
	"context"
	"image"
)

// FacingMode selects which physical camera is active.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Flip returns the opposite facing mode.
func (f FacingMode) Flip() FacingMode {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// StreamConstraints are the hints passed when acquiring hardware.
type StreamConstraints struct {
	Facing     FacingMode
	Width      int
	Height     int
	SampleRate int
}

// TrackKind distinguishes the hardware tracks of a media stream.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// MediaTrack is one hardware track. Stop releases the underlying device;
// every track of a stream must be stopped individually before the hardware
// can be reacquired.
type MediaTrack interface {
	Kind() TrackKind
	Stop()
}

// MediaStream owns the camera and microphone tracks acquired together.
// Exactly one stream may be active per capture controller; acquiring two
// overlapping streams on the same hardware must never be attempted.
type MediaStream interface {
	Tracks() []MediaTrack

	// Frame returns the most recent decoded video frame, or an error when
	// no frame has been delivered yet.
	Frame() (image.Image, error)
}

// MediaDevices acquires hardware streams. Open fails on permission or
// hardware errors; it never blocks past its context.
type MediaDevices interface {
	Open(ctx context.Context, constraints StreamConstraints) (MediaStream, error)
}

// AudioProcessor is the live audio-processing graph (source node, processing
// node, output). Start attaches it to a stream and delivers fixed-size blocks
// of float32 samples; Stop disconnects the nodes; Close tears down the
// underlying processing context. The graph is recreated per capture session.
type AudioProcessor interface {
	Start(stream MediaStream, onBlock func(samples []float32)) error
	Stop()
	Close() error
}
