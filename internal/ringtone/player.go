// Package ringtone plays the softphone's looped audio cues: the dial tone
// heard once media is up on an outgoing call, the incoming-call ring, and
// the ringback heard while the remote side is ringing.
package ringtone

import (
	"fmt"
	"log/slog"
	"sync"
)

// Cue identifies one of the three audio cues.
type Cue string

const (
	CueDial     Cue = "dial"
	CueIncoming Cue = "incoming"
	CueRingback Cue = "ringback"
)

// Spec describes the source and playback volume of a cue.
type Spec struct {
	// Source is the audio file to loop (WAV, G.711 or PCM).
	Source string
	// Volume is the playback gain in [0, 1]. Zero means full volume.
	Volume float64
}

// Sink is the audio output a cue is rendered to. Implementations loop the
// source from the beginning until Stop is called. Only one cue plays on a
// sink at a time.
type Sink interface {
	// Start begins looped playback of the cue from position zero.
	Start(spec Spec) error
	// Stop halts playback and rewinds. Stopping an idle sink is a no-op.
	Stop()
}

// Player coordinates the three cues over a single sink. Starting a cue
// always stops whichever cue was playing first, so callers never layer
// ringback over the dial tone.
type Player struct {
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	specs  map[Cue]Spec
	active Cue
}

// NewPlayer creates a player for the given cue specs. Missing cues fall
// back to defaults relative to the given audio directory.
func NewPlayer(sink Sink, specs map[Cue]Spec, logger *slog.Logger) *Player {
	merged := map[Cue]Spec{
		CueDial:     {Source: "audio/dialtone.wav", Volume: 0.7},
		CueIncoming: {Source: "audio/ringtone_incoming.wav"},
		CueRingback: {Source: "audio/ringtone_outgoing.wav"},
	}
	for cue, spec := range specs {
		merged[cue] = spec
	}
	return &Player{
		sink:   sink,
		logger: logger.With("subsystem", "ringtone"),
		specs:  merged,
	}
}

// Play starts looped playback of the named cue from the beginning,
// stopping any other active cue first. Output errors (a busy or
// policy-restricted audio device) are swallowed: a silent phone still
// rings visually.
func (p *Player) Play(cue Cue) {
	p.mu.Lock()
	defer p.mu.Unlock()

	spec, ok := p.specs[cue]
	if !ok {
		p.logger.Warn("unknown ringtone cue", "cue", string(cue))
		return
	}
	if p.active != "" {
		p.sink.Stop()
	}
	p.active = cue
	if err := p.sink.Start(spec); err != nil {
		p.logger.Debug("ringtone playback unavailable", "cue", string(cue), "error", err)
	}
}

// Stop halts and rewinds whichever cue is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == "" {
		return
	}
	p.active = ""
	p.sink.Stop()
}

// Active returns the cue currently playing, or "".
func (p *Player) Active() Cue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Validate checks that every cue has a source configured.
func (p *Player) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for cue, spec := range p.specs {
		if spec.Source == "" {
			return fmt.Errorf("ringtone cue %q has no source", cue)
		}
	}
	return nil
}
