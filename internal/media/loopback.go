package media

import (
	"context"
	"sync"
	"sync/atomic"
)

// LoopbackDevices is a Devices implementation that produces silent tracks.
// It backs demo mode and headless deployments where no capture hardware is
// wired in, and doubles as the test fake for the orchestrator: an optional
// Err makes every acquisition fail with a classified error.
type LoopbackDevices struct {
	// Err, when non-nil, is returned by every Acquire call.
	Err error

	acquired atomic.Int64
}

// Acquire returns a one-track silent stream, or the configured error.
func (d *LoopbackDevices) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.acquired.Add(1)
	id := c.DeviceID
	if id == "" {
		id = "default"
	}
	return &loopbackStream{tracks: []Track{newLoopbackTrack(id)}}, nil
}

// Acquired returns how many streams have been handed out.
func (d *LoopbackDevices) Acquired() int64 {
	return d.acquired.Load()
}

type loopbackStream struct {
	tracks []Track
}

func (s *loopbackStream) AudioTracks() []Track { return s.tracks }

func (s *loopbackStream) Close() error {
	for _, t := range s.tracks {
		t.Close()
	}
	return nil
}

type loopbackTrack struct {
	id string

	mu      sync.Mutex
	enabled bool
	closed  bool
}

func newLoopbackTrack(id string) *loopbackTrack {
	return &loopbackTrack{id: id, enabled: true}
}

func (t *loopbackTrack) ID() string { return t.id }

func (t *loopbackTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *loopbackTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *loopbackTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
