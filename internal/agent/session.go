package agent

import (
	"context"

	"github.com/softdial/softdial/internal/call"
)

// Phase is the invite/negotiation phase of the active session.
type Phase string

const (
	PhaseTrying      Phase = "trying"
	PhaseRinging     Phase = "ringing"
	PhaseEstablished Phase = "established"
)

// SessionState is the orchestrator's public state, derived from the
// session's direction and phase.
type SessionState string

const (
	StateIdle            SessionState = "idle"
	StateOutgoingTrying  SessionState = "outgoing-trying"
	StateOutgoingRinging SessionState = "outgoing-ringing"
	StateIncomingRinging SessionState = "incoming-ringing"
	StateEstablished     SessionState = "established"
	StateTerminating     SessionState = "terminating"
)

// session is the single active call context. At most one exists per agent;
// a new incoming or outgoing attempt while one exists is busy-rejected.
// The epoch distinguishes this session from any later one so asynchronous
// continuations (media acquisition, backend RPCs, demo timers) can detect
// that they have been superseded and abandon silently.
type session struct {
	call     *call.Call
	dialog   Dialog
	phase    Phase
	muted    bool
	transfer string // pending device-relay transfer target
	epoch    uint64

	stopTicker context.CancelFunc
	demoCancel context.CancelFunc
}

// cancelDemo stops a pending demo answer timer, if any.
func (s *session) cancelDemo() {
	if s.demoCancel != nil {
		s.demoCancel()
		s.demoCancel = nil
	}
}

// state maps the session to the public state machine.
func (s *session) state() SessionState {
	if s == nil {
		return StateIdle
	}
	switch s.phase {
	case PhaseEstablished:
		return StateEstablished
	case PhaseRinging:
		if s.call.Direction == call.DirectionIncoming {
			return StateIncomingRinging
		}
		return StateOutgoingRinging
	default:
		if s.call.Direction == call.DirectionIncoming {
			return StateIncomingRinging
		}
		return StateOutgoingTrying
	}
}

// Snapshot is the session view exposed to the display layer.
type Snapshot struct {
	State          SessionState `json:"state"`
	Muted          bool         `json:"muted,omitempty"`
	TransferTarget string       `json:"transfer_target,omitempty"`
	Call           *call.Call   `json:"call,omitempty"`
}
