package ringtone

import (
	"fmt"
	"os"
)

// NullSink is a Sink that renders nothing. It is used when the process has
// no audio output (headless deployments) and by the composition root until
// a hardware-backed sink is configured. Start still validates that the cue
// source exists so misconfiguration is caught early.
type NullSink struct{}

// Start validates the cue source and discards the audio.
func (NullSink) Start(spec Spec) error {
	if _, err := os.Stat(spec.Source); err != nil {
		return fmt.Errorf("ringtone source %q: %w", spec.Source, err)
	}
	return nil
}

// Stop is a no-op.
func (NullSink) Stop() {}
