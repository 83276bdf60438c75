package agent

import (
	"context"
	"fmt"

	"github.com/softdial/softdial/internal/media"
)

// DialogState is the signaling state of a call leg as reported by the SIP
// engine. The set is closed: an orchestrator receiving any other value
// treats it as a programming error and panics.
type DialogState string

const (
	DialogInitial      DialogState = "Initial"
	DialogEstablishing DialogState = "Establishing"
	DialogEstablished  DialogState = "Established"
	DialogTerminating  DialogState = "Terminating"
	DialogTerminated   DialogState = "Terminated"
)

// SIP status codes the orchestrator sends or classifies.
const (
	StatusBusyHere          = 486
	StatusRequestTerminated = 487
	StatusNotAcceptableHere = 488
	StatusDecline           = 603
)

// Dialog is one call leg owned by the SIP engine. All methods are safe to
// call from the orchestrator goroutine; the engine reports progress
// asynchronously through the EventSink.
type Dialog interface {
	// Accept answers an incoming invite, acquiring local media with the
	// given constraints.
	Accept(ctx context.Context, constraints media.Constraints) error
	// Reject declines an incoming invite with the given status code.
	Reject(statusCode int) error
	// Cancel aborts an outgoing invite that has not been answered.
	Cancel() error
	// Bye terminates an established dialog.
	Bye() error
	// Refer asks the remote party to call the given number (blind
	// transfer). Acceptance is reported via EventSink.OnReferAccepted.
	Refer(ctx context.Context, number string) error
	// State returns the engine's view of the dialog.
	State() DialogState
	// RemoteNumber is the phone number of the remote party.
	RemoteNumber() string
	// Senders returns the outbound media tracks, or nil while media is
	// not negotiated.
	Senders() media.Senders
	// RemoteTracks returns the inbound audio tracks, empty until the
	// dialog is established.
	RemoteTracks() []media.Track
}

// EventSink receives engine events. The orchestrator implements it; the
// engine must deliver events one at a time (calls may come from any
// goroutine, the sink serializes them itself).
type EventSink interface {
	// OnIncomingInvite reports a new incoming call leg.
	OnIncomingInvite(d Dialog)
	// OnInviteProgress reports a provisional response (180/183) to an
	// outgoing invite.
	OnInviteProgress(d Dialog, statusCode int)
	// OnInviteAccepted reports the remote party answering an outgoing
	// invite.
	OnInviteAccepted(d Dialog)
	// OnInviteRejected reports a final failure response to an outgoing
	// invite.
	OnInviteRejected(d Dialog, statusCode int, reason string)
	// OnInviteCanceled reports the remote caller abandoning an incoming
	// invite before it was answered.
	OnInviteCanceled(d Dialog)
	// OnDialogState reports a dialog state transition.
	OnDialogState(d Dialog, state DialogState)
	// OnRemoteTrack reports a new inbound audio track on an established
	// dialog; the orchestrator re-attaches the output.
	OnRemoteTrack(d Dialog)
	// OnBye reports remote termination of an established dialog.
	OnBye(d Dialog)
	// OnReferAccepted reports the remote party accepting a transfer.
	OnReferAccepted(d Dialog)
	// OnMediaSuccess reports local media acquisition completing for a
	// dialog.
	OnMediaSuccess(d Dialog)
	// OnMediaFailure reports local media acquisition failing; err is one
	// of the media package's classified errors.
	OnMediaFailure(d Dialog, err error)
	// OnDisconnect reports transport loss. A nil error means a clean
	// local shutdown.
	OnDisconnect(err error)
}

// Engine is the SIP client the orchestrator drives. Implementations wrap a
// real SIP stack; tests use a fake.
type Engine interface {
	// Start connects the signaling transport.
	Start(ctx context.Context) error
	// Register performs (or refreshes) the SIP registration.
	Register(ctx context.Context) error
	// Reconnect re-establishes a lost transport.
	Reconnect(ctx context.Context) error
	// Invite starts an outgoing call leg to the given number. It returns
	// promptly; responses arrive through the EventSink.
	Invite(ctx context.Context, number string, constraints media.Constraints) (Dialog, error)
	// SetSink registers the event sink. Must be called before Start.
	SetSink(sink EventSink)
	// Stop closes the transport and releases resources.
	Stop()
}

// Output renders the remote party's audio on the local speaker.
type Output interface {
	// Attach replaces the output source with the given tracks.
	Attach(tracks []media.Track)
	// Detach stops playback and releases the source.
	Detach()
}

// assertKnownState panics on a dialog state outside the documented set.
// An engine reporting a new state is a contract break that must not be
// papered over.
func assertKnownState(state DialogState) {
	switch state {
	case DialogInitial, DialogEstablishing, DialogEstablished, DialogTerminating, DialogTerminated:
	default:
		panic(fmt.Sprintf("unknown dialog state %q", state))
	}
}
