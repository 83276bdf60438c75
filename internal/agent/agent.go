// Package agent implements the call-session orchestrator: the single
// state machine that bridges SIP signaling events, local media
// acquisition, ringtone playback, and the call-control backend. All
// transitions run on one goroutine fed by one inbox, so no two events can
// mutate the session concurrently; asynchronous continuations re-validate
// the session epoch before touching it.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/softdial/softdial/internal/autodial"
	"github.com/softdial/softdial/internal/call"
	"github.com/softdial/softdial/internal/callctl"
	"github.com/softdial/softdial/internal/config"
	"github.com/softdial/softdial/internal/media"
	"github.com/softdial/softdial/internal/notify"
	"github.com/softdial/softdial/internal/ringtone"
)

// Sentinel errors returned by user operations.
var (
	// ErrSessionExists is returned when a call is placed while another
	// session is active or being set up.
	ErrSessionExists = errors.New("a call session already exists")
	// ErrInvalidState is returned when an operation is not valid in the
	// current session state.
	ErrInvalidState = errors.New("operation not valid in the current state")
	// ErrNotReady is returned when the agent's start preconditions were
	// not met.
	ErrNotReady = errors.New("user agent is not ready")
	// ErrTelPreferred is returned by PlaceCall when the user prefers the
	// device's own dialer over VoIP; the caller should hand the number
	// to the OS.
	ErrTelPreferred = errors.New("user prefers the device dialer")
)

// demoAnswerDelay simulates the remote party answering in demo mode.
const demoAnswerDelay = 3 * time.Second

// CallRecorder persists a finished call to the call log.
type CallRecorder interface {
	Record(ctx context.Context, c *call.Call) error
}

// Deps bundles the collaborators of the orchestrator.
type Deps struct {
	Config   *config.Config
	Engine   Engine
	Actions  callctl.Actions
	Store    *call.Store
	Tones    *ringtone.Player
	Notifier *notify.Notifier
	Devices  media.Devices
	Output   Output
	Queue    *autodial.Queue
	Recorder CallRecorder // optional
	Logger   *slog.Logger
}

// Agent owns the single active call session and serializes every
// transition through its inbox.
type Agent struct {
	cfg      *config.Config
	engine   Engine
	actions  callctl.Actions
	store    *call.Store
	tones    *ringtone.Player
	notifier *notify.Notifier
	devices  media.Devices
	output   Output
	queue    *autodial.Queue
	recorder CallRecorder
	logger   *slog.Logger

	reconnector *Reconnector

	inbox chan event
	done  chan struct{}

	demoDelay time.Duration

	// Owned by the run loop; never touched from other goroutines.
	sess           *session
	placing        bool
	ready          bool
	epochCounter   uint64
	preferredInput string
}

// New creates an orchestrator. Call Start to run it.
func New(d Deps) *Agent {
	a := &Agent{
		cfg:       d.Config,
		engine:    d.Engine,
		actions:   d.Actions,
		store:     d.Store,
		tones:     d.Tones,
		notifier:  d.Notifier,
		devices:   d.Devices,
		output:    d.Output,
		queue:     d.Queue,
		recorder:  d.Recorder,
		logger:    d.Logger.With("subsystem", "agent"),
		demoDelay: demoAnswerDelay,
		inbox:     make(chan event, 64),
		done:      make(chan struct{}),
	}
	a.reconnector = NewReconnector(d.Engine, d.Notifier, a.logger)
	if a.engine != nil {
		a.engine.SetSink(a)
	}
	return a
}

// Start checks the preconditions, connects the SIP engine, and registers.
// Each unmet precondition surfaces one blocking error and aborts the
// start; the agent then refuses calls until restarted. In demo mode no
// engine is started and calls are simulated locally.
func (a *Agent) Start(ctx context.Context) error {
	go a.run(ctx)

	if a.cfg.Mode != "prod" {
		a.ready = true
		a.logger.Info("agent started in demo mode")
		return nil
	}

	if a.devices == nil {
		a.notifier.TriggerError(msgNoAudioSupport, false)
		return ErrNotReady
	}
	if !a.cfg.ServerConfigured() {
		a.notifier.TriggerError(msgServerMissing, false)
		return ErrNotReady
	}
	if !a.cfg.CredentialsSet() {
		a.notifier.TriggerError(msgBadCredentials, false)
		return ErrNotReady
	}

	a.notifier.TriggerError(msgConnecting, false)
	if err := a.engine.Start(ctx); err != nil {
		a.notifier.TriggerError(msgStartFailed, false)
		return err
	}
	if err := a.engine.Register(ctx); err != nil {
		a.notifier.TriggerError(msgStartFailed, false)
		return err
	}
	a.notifier.ResolveError()
	a.ready = true
	a.logger.Info("agent started", "server", a.cfg.ServerURL, "user", a.cfg.Username)
	return nil
}

// Stop shuts the run loop and the engine down.
func (a *Agent) Stop() {
	close(a.done)
	if a.engine != nil {
		a.engine.Stop()
	}
}

// PlaceCall creates a call record, builds the session, and sends the
// invite to the given number (or to the relay device when configured).
// It returns once the session is in the trying phase.
func (a *Agent) PlaceCall(ctx context.Context, number string, activity *call.Activity) error {
	if a.cfg.CallMethod == "tel" {
		return ErrTelPreferred
	}
	reply := make(chan error, 1)
	a.post(cmdPlaceCall{number: number, activity: activity, reply: reply})
	return a.await(ctx, reply)
}

// AcceptIncoming answers the ringing incoming call.
func (a *Agent) AcceptIncoming(ctx context.Context) error {
	reply := make(chan error, 1)
	a.post(cmdAccept{reply: reply})
	return a.await(ctx, reply)
}

// RejectIncoming declines the ringing incoming call.
func (a *Agent) RejectIncoming(ctx context.Context) error {
	reply := make(chan error, 1)
	a.post(cmdRejectIncoming{reply: reply})
	return a.await(ctx, reply)
}

// HangUp terminates the active session. activityDone controls whether the
// linked activity record is closed when the call ends. Hanging up with no
// session is a no-op.
func (a *Agent) HangUp(ctx context.Context, activityDone bool) error {
	reply := make(chan error, 1)
	a.post(cmdHangUp{activityDone: activityDone, reply: reply})
	return a.await(ctx, reply)
}

// Transfer sends the established call to another number (blind transfer).
func (a *Agent) Transfer(ctx context.Context, number string) error {
	reply := make(chan error, 1)
	a.post(cmdTransfer{number: number, reply: reply})
	return a.await(ctx, reply)
}

// SwitchInputDevice swaps the outbound audio to the given input device.
// A no-op without an established session with negotiated media.
func (a *Agent) SwitchInputDevice(ctx context.Context, deviceID string) error {
	reply := make(chan error, 1)
	a.post(cmdSwitchDevice{deviceID: deviceID, reply: reply})
	return a.await(ctx, reply)
}

// SetMute enables or disables every outbound audio track. A no-op without
// negotiated media.
func (a *Agent) SetMute(ctx context.Context, mute bool) error {
	reply := make(chan error, 1)
	a.post(cmdSetMute{mute: mute, reply: reply})
	return a.await(ctx, reply)
}

// ToggleMute flips the session's mute flag.
func (a *Agent) ToggleMute(ctx context.Context) error {
	reply := make(chan error, 1)
	a.post(cmdSetMute{toggle: true, reply: reply})
	return a.await(ctx, reply)
}

// Session returns a snapshot of the active session for display.
func (a *Agent) Session(ctx context.Context) Snapshot {
	reply := make(chan Snapshot, 1)
	a.post(cmdSnapshot{reply: reply})
	select {
	case snap := <-reply:
		return snap
	case <-ctx.Done():
		return Snapshot{State: StateIdle}
	case <-a.done:
		return Snapshot{State: StateIdle}
	}
}

// SessionState returns the current session state name.
func (a *Agent) SessionState(ctx context.Context) string {
	return string(a.Session(ctx).State)
}

// Autodial enqueues call activities and starts dialing if the line is
// free. Queued activities are dialed one at a time as each call ends.
func (a *Agent) Autodial(ctx context.Context, activities ...*call.Activity) error {
	if a.queue == nil {
		return ErrNotReady
	}
	a.queue.Enqueue(activities...)
	reply := make(chan error, 1)
	a.post(cmdKickAutodial{reply: reply})
	return a.await(ctx, reply)
}

// StopAutodial drops all queued activities. The active call, if any, is
// not affected.
func (a *Agent) StopAutodial() {
	if a.queue != nil {
		a.queue.Stop()
	}
}

// AutodialPending reports how many activities are still queued.
func (a *Agent) AutodialPending() int {
	if a.queue == nil {
		return 0
	}
	return a.queue.Len()
}

// Reconnector exposes the reconnection manager (for metrics).
func (a *Agent) Reconnector() *Reconnector {
	return a.reconnector
}

// post delivers an event to the run loop unless the agent is stopped.
func (a *Agent) post(ev event) {
	select {
	case a.inbox <- ev:
	case <-a.done:
	}
}

// await reads an operation reply.
func (a *Agent) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrNotReady
	}
}
