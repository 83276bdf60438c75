// Package media abstracts local audio capture for the softphone. The
// orchestrator acquires a microphone stream before a call leg is answered
// and swaps or mutes its tracks while the call runs; everything below the
// Devices interface (drivers, sample formats) is out of scope.
package media

import (
	"context"
	"errors"
)

// Acquisition failure classes. The orchestrator maps each to a distinct
// user-facing message, so implementations must wrap their platform errors
// with one of these.
var (
	// ErrNotAllowed means access to the capture device was denied by
	// policy or by the user.
	ErrNotAllowed = errors.New("audio capture not allowed")
	// ErrNotFound means no capture device is present.
	ErrNotFound = errors.New("no audio capture device found")
	// ErrNotReadable means the device exists but a hardware or driver
	// error prevents capture.
	ErrNotReadable = errors.New("audio capture device not readable")
)

// Constraints selects what to capture. Video is never requested by the
// softphone.
type Constraints struct {
	// Audio requests an audio track.
	Audio bool
	// DeviceID pins acquisition to a specific input device. Empty means
	// the system default.
	DeviceID string
}

// Track is a single live audio track within a stream.
type Track interface {
	// ID identifies the track's source device.
	ID() string
	// SetEnabled mutes (false) or unmutes (true) the track without
	// stopping capture.
	SetEnabled(enabled bool)
	// Enabled reports whether the track is currently unmuted.
	Enabled() bool
	// Close stops capture on this track.
	Close() error
}

// Stream is a set of live tracks acquired from a capture device.
type Stream interface {
	// AudioTracks returns the stream's audio tracks.
	AudioTracks() []Track
	// Close stops all tracks.
	Close() error
}

// Devices acquires capture streams. Acquire blocks until the device is
// ready or the acquisition fails; failures are classified with the
// package's sentinel errors.
type Devices interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Senders is the set of outbound tracks attached to a negotiated call leg.
// The orchestrator uses it to mute and to switch input devices mid-call.
type Senders interface {
	// Tracks returns the outbound audio tracks currently being sent.
	Tracks() []Track
	// ReplaceTrack swaps the outbound audio to the given track on every
	// active sender.
	ReplaceTrack(t Track) error
}
