package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/softdial/softdial/internal/call"
	"github.com/softdial/softdial/internal/callctl"
	"github.com/softdial/softdial/internal/media"
	"github.com/softdial/softdial/internal/ringtone"
)

// event is anything the run loop consumes: user commands, engine
// callbacks, and completions of asynchronous work started by a previous
// event.
type event interface{}

// User commands. Each carries a buffered reply channel.
type (
	cmdPlaceCall struct {
		number   string
		activity *call.Activity
		reply    chan error
	}
	cmdAccept         struct{ reply chan error }
	cmdRejectIncoming struct{ reply chan error }
	cmdHangUp         struct {
		activityDone bool
		reply        chan error
	}
	cmdTransfer struct {
		number string
		reply  chan error
	}
	cmdSwitchDevice struct {
		deviceID string
		reply    chan error
	}
	cmdSetMute struct {
		mute   bool
		toggle bool
		reply  chan error
	}
	cmdSnapshot     struct{ reply chan Snapshot }
	cmdKickAutodial struct{ reply chan error }
)

// Completions of async work. Epoch-carrying events are dropped when the
// session that started them is gone.
type (
	evPlaced struct {
		number   string
		activity *call.Activity
		created  *call.Call
		err      error
		reply    chan error
	}
	evIncomingCreated struct {
		dialog  Dialog
		created *call.Call
		err     error
	}
	evContactInfo struct {
		callID  string
		contact *call.Contact
	}
	evInputAcquired struct {
		epoch  uint64
		stream media.Stream
		err    error
	}
	evDemoAnswer struct{ epoch uint64 }
)

// Engine events, posted by the EventSink methods.
type (
	evIncomingInvite struct{ dialog Dialog }
	evInviteProgress struct {
		dialog Dialog
		code   int
	}
	evInviteAccepted struct{ dialog Dialog }
	evInviteRejected struct {
		dialog Dialog
		code   int
		reason string
	}
	evInviteCanceled struct{ dialog Dialog }
	evDialogState    struct {
		dialog Dialog
		state  DialogState
	}
	evRemoteTrack   struct{ dialog Dialog }
	evBye           struct{ dialog Dialog }
	evReferAccepted struct{ dialog Dialog }
	evMediaSuccess  struct{ dialog Dialog }
	evMediaFailure  struct {
		dialog Dialog
		err    error
	}
	evDisconnect struct{ err error }
)

// EventSink implementation: translate engine callbacks into inbox events.

func (a *Agent) OnIncomingInvite(d Dialog)       { a.post(evIncomingInvite{dialog: d}) }
func (a *Agent) OnInviteProgress(d Dialog, code int) {
	a.post(evInviteProgress{dialog: d, code: code})
}
func (a *Agent) OnInviteAccepted(d Dialog) { a.post(evInviteAccepted{dialog: d}) }
func (a *Agent) OnInviteRejected(d Dialog, code int, reason string) {
	a.post(evInviteRejected{dialog: d, code: code, reason: reason})
}
func (a *Agent) OnInviteCanceled(d Dialog) { a.post(evInviteCanceled{dialog: d}) }
func (a *Agent) OnDialogState(d Dialog, s DialogState) {
	a.post(evDialogState{dialog: d, state: s})
}
func (a *Agent) OnRemoteTrack(d Dialog)    { a.post(evRemoteTrack{dialog: d}) }
func (a *Agent) OnBye(d Dialog)            { a.post(evBye{dialog: d}) }
func (a *Agent) OnReferAccepted(d Dialog)  { a.post(evReferAccepted{dialog: d}) }
func (a *Agent) OnMediaSuccess(d Dialog)   { a.post(evMediaSuccess{dialog: d}) }
func (a *Agent) OnMediaFailure(d Dialog, err error) {
	a.post(evMediaFailure{dialog: d, err: err})
}
func (a *Agent) OnDisconnect(err error) { a.post(evDisconnect{err: err}) }

// run is the single consumer of the inbox.
func (a *Agent) run(ctx context.Context) {
	for {
		select {
		case ev := <-a.inbox:
			a.dispatch(ctx, ev)
		case <-ctx.Done():
			return
		case <-a.done:
			return
		}
	}
}

func (a *Agent) dispatch(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case cmdPlaceCall:
		a.handlePlaceCall(ctx, ev.number, ev.activity, ev.reply)
	case cmdAccept:
		ev.reply <- a.handleAccept(ctx)
	case cmdRejectIncoming:
		ev.reply <- a.handleRejectIncoming(ctx)
	case cmdHangUp:
		a.handleHangUp(ctx, ev.activityDone)
		ev.reply <- nil
	case cmdTransfer:
		ev.reply <- a.handleTransfer(ctx, ev.number)
	case cmdSwitchDevice:
		ev.reply <- a.handleSwitchDevice(ctx, ev.deviceID)
	case cmdSetMute:
		ev.reply <- a.handleSetMute(ev.mute, ev.toggle)
	case cmdSnapshot:
		ev.reply <- a.snapshot()
	case cmdKickAutodial:
		a.advanceAutodial(ctx)
		ev.reply <- nil

	case evPlaced:
		a.handlePlaced(ctx, ev)
	case evIncomingCreated:
		a.handleIncomingCreated(ctx, ev)
	case evContactInfo:
		a.handleContactInfo(ev)
	case evInputAcquired:
		a.handleInputAcquired(ev)
	case evDemoAnswer:
		a.handleDemoAnswer(ctx, ev.epoch)

	case evIncomingInvite:
		a.handleIncomingInvite(ctx, ev.dialog)
	case evInviteProgress:
		a.handleInviteProgress(ev.dialog, ev.code)
	case evInviteAccepted:
		a.handleInviteAccepted(ctx, ev.dialog)
	case evInviteRejected:
		a.handleInviteRejected(ctx, ev.dialog, ev.code, ev.reason)
	case evInviteCanceled:
		a.handleInviteCanceled(ctx, ev.dialog)
	case evDialogState:
		a.handleDialogState(ev.dialog, ev.state)
	case evRemoteTrack:
		a.handleRemoteTrack(ev.dialog)
	case evBye:
		a.handleBye(ctx, ev.dialog)
	case evReferAccepted:
		a.handleReferAccepted(ctx, ev.dialog)
	case evMediaSuccess:
		a.handleMediaSuccess(ctx, ev.dialog)
	case evMediaFailure:
		a.handleMediaFailure(ctx, ev.dialog, ev.err)
	case evDisconnect:
		a.handleDisconnect(ctx, ev.err)

	default:
		panic(fmt.Sprintf("agent: unhandled event type %T", ev))
	}
}

// current returns the session when d is its dialog, nil otherwise. Events
// carrying a dialog from a finished session fall through this check and
// are ignored.
func (a *Agent) current(d Dialog) *session {
	if a.sess == nil || a.sess.dialog != d {
		return nil
	}
	return a.sess
}

func (a *Agent) newSession(rec *call.Call, d Dialog, phase Phase) *session {
	a.epochCounter++
	return &session{
		call:   rec,
		dialog: d,
		phase:  phase,
		epoch:  a.epochCounter,
	}
}

func (a *Agent) constraints() media.Constraints {
	return media.Constraints{Audio: true, DeviceID: a.preferredInput}
}

// Outgoing call placement.

func (a *Agent) handlePlaceCall(ctx context.Context, number string, activity *call.Activity, reply chan error) {
	if !a.ready {
		reply <- ErrNotReady
		return
	}
	if a.sess != nil || a.placing {
		reply <- ErrSessionExists
		return
	}
	a.placing = true
	go func() {
		created, err := a.actions.Create(ctx, callctl.CreateParams{
			Direction:   call.DirectionOutgoing,
			State:       call.StateCalling,
			PhoneNumber: number,
		})
		a.post(evPlaced{number: number, activity: activity, created: created, err: err, reply: reply})
	}()
}

func (a *Agent) handlePlaced(ctx context.Context, ev evPlaced) {
	a.placing = false
	if ev.err != nil {
		a.logger.Error("creating call record", "number", ev.number, "error", ev.err)
		ev.reply <- fmt.Errorf("creating call record: %w", ev.err)
		return
	}
	if a.sess != nil {
		// An incoming call was set up while the create request was in
		// flight. The incoming call wins; discard the placed record.
		a.logger.Warn("outgoing call superseded by another session", "call_id", ev.created.ID)
		go a.backendAction("abort", ev.created.ID, func(ctx context.Context) error {
			return a.actions.Abort(ctx, ev.created.ID)
		})
		ev.reply <- ErrSessionExists
		return
	}

	rec := a.store.Insert(ev.created)
	if ev.activity != nil {
		activity := ev.activity
		a.store.Update(rec.ID, func(c *call.Call) { c.Activity = activity })
	}
	if rec.Partner == nil {
		a.lookupContact(ctx, rec.ID)
	}

	a.sess = a.newSession(rec, nil, PhaseTrying)
	a.tones.Play(ringtone.CueRingback)

	if a.cfg.Mode != "prod" {
		epoch := a.sess.epoch
		timer := time.AfterFunc(a.demoDelay, func() {
			a.post(evDemoAnswer{epoch: epoch})
		})
		a.sess.demoCancel = func() { timer.Stop() }
		ev.reply <- nil
		return
	}

	target := rec.PhoneNumber
	if a.cfg.WillCallFromAnotherDevice() {
		// Ring the user's relay device first; the destination is dialed
		// by transfer once the relay answers.
		target = a.cfg.RelayNumber
		a.sess.transfer = rec.PhoneNumber
	}
	d, err := a.engine.Invite(ctx, call.CleanPhoneNumber(target), a.constraints())
	if err != nil {
		a.logger.Error("sending invite", "number", rec.PhoneNumber, "error", err)
		a.notifier.TriggerError(inviteFailureMessage(rec.PhoneNumber, err), false)
		a.clearSession(call.StateTerminated)
		ev.reply <- err
		return
	}
	a.sess.dialog = d
	ev.reply <- nil
}

// Incoming call setup.

func (a *Agent) handleIncomingInvite(ctx context.Context, d Dialog) {
	if a.sess != nil || a.placing {
		d.Reject(StatusBusyHere)
		return
	}
	if a.cfg.AutoReject {
		a.logger.Info("auto-rejecting incoming call", "number", d.RemoteNumber())
		d.Reject(StatusNotAcceptableHere)
		return
	}
	a.placing = true
	go func() {
		created, err := a.actions.Create(ctx, callctl.CreateParams{
			Direction:   call.DirectionIncoming,
			State:       call.StateCalling,
			PhoneNumber: d.RemoteNumber(),
		})
		a.post(evIncomingCreated{dialog: d, created: created, err: err})
	}()
}

func (a *Agent) handleIncomingCreated(ctx context.Context, ev evIncomingCreated) {
	a.placing = false
	if ev.err != nil {
		a.logger.Error("creating incoming call record", "number", ev.dialog.RemoteNumber(), "error", ev.err)
		ev.dialog.Reject(StatusBusyHere)
		return
	}
	if a.sess != nil {
		ev.dialog.Reject(StatusBusyHere)
		go a.backendAction("abort", ev.created.ID, func(ctx context.Context) error {
			return a.actions.Abort(ctx, ev.created.ID)
		})
		return
	}

	rec := a.store.Insert(ev.created)
	if rec.Partner == nil {
		a.lookupContact(ctx, rec.ID)
	}
	a.sess = a.newSession(rec, ev.dialog, PhaseRinging)
	a.tones.Play(ringtone.CueIncoming)
	a.logger.Info("incoming call ringing", "call_id", rec.ID, "number", rec.PhoneNumber)
}

func (a *Agent) handleAccept(ctx context.Context) error {
	if a.sess == nil || a.sess.state() != StateIncomingRinging {
		return ErrInvalidState
	}
	a.tones.Stop()
	if err := a.sess.dialog.Accept(ctx, a.constraints()); err != nil {
		return fmt.Errorf("accepting call: %w", err)
	}
	a.sess.phase = PhaseEstablished
	a.notifier.TriggerError(msgMicReminder, true)
	return nil
}

func (a *Agent) handleRejectIncoming(ctx context.Context) error {
	sess := a.sess
	if sess == nil || sess.state() != StateIncomingRinging {
		return ErrInvalidState
	}
	a.tones.Stop()
	sess.dialog.Reject(StatusDecline)
	id := sess.call.ID
	go a.backendAction("reject", id, func(ctx context.Context) error {
		return a.actions.Reject(ctx, id)
	})
	a.clearSession(call.StateRejected)
	return nil
}

// Teardown.

func (a *Agent) handleHangUp(ctx context.Context, activityDone bool) {
	sess := a.sess
	if sess == nil {
		return
	}
	a.tones.Stop()
	sess.cancelDemo()

	if d := sess.dialog; d != nil {
		a.output.Detach()
		st := d.State()
		assertKnownState(st)
		switch st {
		case DialogEstablishing:
			d.Cancel()
		case DialogEstablished:
			d.Bye()
		}
	}

	id := sess.call.ID
	switch sess.call.State {
	case call.StateCalling:
		go a.backendAction("abort", id, func(ctx context.Context) error {
			return a.actions.Abort(ctx, id)
		})
		a.clearSession(call.StateTerminated)
	case call.StateOngoing:
		activity := ""
		if activityDone && sess.call.Activity != nil {
			activity = sess.call.Activity.Name
		}
		go a.backendAction("end", id, func(ctx context.Context) error {
			return a.actions.End(ctx, id, activity)
		})
		a.clearSession(call.StateTerminated)
	default:
		a.clearSession(call.StateTerminated)
	}
	a.advanceAutodial(ctx)
}

// Transfer.

func (a *Agent) handleTransfer(ctx context.Context, number string) error {
	sess := a.sess
	if sess == nil || sess.state() != StateEstablished {
		return ErrInvalidState
	}
	if a.cfg.Mode != "prod" {
		// Nothing to refer in demo mode; behave like a hangup.
		a.handleHangUp(ctx, true)
		return nil
	}
	if err := sess.dialog.Refer(ctx, call.CleanPhoneNumber(number)); err != nil {
		return fmt.Errorf("transferring call: %w", err)
	}
	return nil
}

func (a *Agent) handleReferAccepted(ctx context.Context, d Dialog) {
	sess := a.current(d)
	if sess == nil {
		return
	}
	a.output.Detach()
	d.Bye()
	id := sess.call.ID
	activity := ""
	if sess.call.Activity != nil {
		activity = sess.call.Activity.Name
	}
	go a.backendAction("end", id, func(ctx context.Context) error {
		return a.actions.End(ctx, id, activity)
	})
	a.clearSession(call.StateTerminated)
}

// Device and mute control.

func (a *Agent) handleSwitchDevice(ctx context.Context, deviceID string) error {
	sess := a.sess
	if sess == nil || sess.dialog == nil || sess.dialog.Senders() == nil {
		return nil
	}
	a.preferredInput = deviceID
	epoch := sess.epoch
	go func() {
		stream, err := a.devices.Acquire(ctx, media.Constraints{Audio: true, DeviceID: deviceID})
		a.post(evInputAcquired{epoch: epoch, stream: stream, err: err})
	}()
	return nil
}

func (a *Agent) handleInputAcquired(ev evInputAcquired) {
	if a.sess == nil || a.sess.epoch != ev.epoch {
		if ev.stream != nil {
			ev.stream.Close()
		}
		return
	}
	if ev.err != nil {
		a.logger.Error("switching input device", "error", ev.err)
		a.notifier.TriggerError(mediaFailureMessage(ev.err), true)
		return
	}
	tracks := ev.stream.AudioTracks()
	if len(tracks) == 0 {
		return
	}
	if err := a.sess.dialog.Senders().ReplaceTrack(tracks[0]); err != nil {
		a.logger.Error("replacing outbound track", "error", err)
		return
	}
	// Keep the new track consistent with the session's mute flag.
	tracks[0].SetEnabled(!a.sess.muted)
}

func (a *Agent) handleSetMute(mute, toggle bool) error {
	sess := a.sess
	if sess == nil || sess.dialog == nil {
		return nil
	}
	senders := sess.dialog.Senders()
	if senders == nil {
		return nil
	}
	if toggle {
		mute = !sess.muted
	}
	sess.muted = mute
	for _, t := range senders.Tracks() {
		t.SetEnabled(!mute)
	}
	return nil
}

// Signaling progress.

func (a *Agent) handleInviteProgress(d Dialog, code int) {
	sess := a.current(d)
	if sess == nil || sess.call.Direction != call.DirectionOutgoing {
		return
	}
	if code == 180 || code == 183 {
		a.tones.Play(ringtone.CueRingback)
		sess.phase = PhaseRinging
	}
}

func (a *Agent) handleInviteAccepted(ctx context.Context, d Dialog) {
	sess := a.current(d)
	if sess == nil {
		return
	}
	a.accepted(ctx, sess)
}

// accepted runs the shared answer path for real and demo calls.
func (a *Agent) accepted(ctx context.Context, sess *session) {
	a.tones.Stop()
	sess.phase = PhaseEstablished
	if sess.transfer != "" {
		// Relay device answered; now send it on to the real destination.
		number := sess.transfer
		sess.transfer = ""
		if err := sess.dialog.Refer(ctx, call.CleanPhoneNumber(number)); err != nil {
			a.logger.Error("relaying call to destination", "number", number, "error", err)
			a.handleHangUp(ctx, false)
		}
		return
	}
	a.callStart(ctx, sess)
}

func (a *Agent) handleDemoAnswer(ctx context.Context, epoch uint64) {
	if a.sess == nil || a.sess.epoch != epoch {
		return
	}
	a.accepted(ctx, a.sess)
}

func (a *Agent) handleInviteRejected(ctx context.Context, d Dialog, code int, reason string) {
	sess := a.current(d)
	if sess == nil {
		return
	}
	a.tones.Stop()
	if code == StatusRequestTerminated {
		// Our own cancel coming back; handleHangUp already cleaned up.
		return
	}
	a.notifier.TriggerError(rejectionMessage(code, reason), true)
	id := sess.call.ID
	go a.backendAction("reject", id, func(ctx context.Context) error {
		return a.actions.Reject(ctx, id)
	})
	a.clearSession(call.StateRejected)
	a.advanceAutodial(ctx)
}

func (a *Agent) handleInviteCanceled(ctx context.Context, d Dialog) {
	sess := a.current(d)
	if sess == nil {
		return
	}
	a.tones.Stop()
	id := sess.call.ID
	go a.backendAction("miss", id, func(ctx context.Context) error {
		return a.actions.Miss(ctx, id)
	})
	a.clearSession(call.StateMissed)
	a.logger.Info("incoming call canceled by remote party", "call_id", id)
}

func (a *Agent) handleDialogState(d Dialog, st DialogState) {
	assertKnownState(st)
	sess := a.current(d)
	if sess == nil {
		return
	}
	if st == DialogEstablished {
		a.output.Attach(d.RemoteTracks())
	}
}

func (a *Agent) handleRemoteTrack(d Dialog) {
	sess := a.current(d)
	if sess == nil || sess.phase != PhaseEstablished {
		return
	}
	a.output.Attach(d.RemoteTracks())
}

func (a *Agent) handleBye(ctx context.Context, d Dialog) {
	sess := a.current(d)
	if sess == nil {
		return
	}
	a.tones.Stop()
	a.output.Detach()
	id := sess.call.ID
	activity := ""
	if sess.call.Activity != nil {
		activity = sess.call.Activity.Name
	}
	go a.backendAction("end", id, func(ctx context.Context) error {
		return a.actions.End(ctx, id, activity)
	})
	a.clearSession(call.StateTerminated)
	a.advanceAutodial(ctx)
}

// Media outcomes.

func (a *Agent) handleMediaSuccess(ctx context.Context, d Dialog) {
	sess := a.current(d)
	if sess == nil {
		return
	}
	a.notifier.ResolveError()
	switch sess.call.Direction {
	case call.DirectionOutgoing:
		a.tones.Play(ringtone.CueDial)
	case call.DirectionIncoming:
		a.callStart(ctx, sess)
	}
}

func (a *Agent) handleMediaFailure(ctx context.Context, d Dialog, err error) {
	sess := a.current(d)
	if sess == nil {
		return
	}
	a.logger.Error("acquiring local media", "call_id", sess.call.ID, "error", err)
	a.notifier.TriggerError(mediaFailureMessage(err), true)
	if sess.call.Direction == call.DirectionOutgoing {
		a.handleHangUp(ctx, true)
		return
	}
	a.tones.Stop()
	sess.dialog.Reject(StatusDecline)
	id := sess.call.ID
	go a.backendAction("reject", id, func(ctx context.Context) error {
		return a.actions.Reject(ctx, id)
	})
	a.clearSession(call.StateRejected)
}

// Transport.

func (a *Agent) handleDisconnect(ctx context.Context, err error) {
	if err == nil {
		return
	}
	a.logger.Warn("transport lost", "error", err)
	a.notifier.TriggerError(msgConnectionLost, false)
	a.reconnector.Start(ctx)
}

// Shared helpers.

// callStart flips the record to ongoing, notifies the backend, and
// starts the elapsed ticker.
func (a *Agent) callStart(ctx context.Context, sess *session) {
	now := time.Now()
	a.store.Update(sess.call.ID, func(c *call.Call) {
		c.State = call.StateOngoing
		c.StartedAt = &now
	})
	id := sess.call.ID
	go a.backendAction("start", id, func(ctx context.Context) error {
		return a.actions.Start(ctx, id)
	})

	tickCtx, cancel := context.WithCancel(context.Background())
	sess.stopTicker = cancel
	go a.tickElapsed(tickCtx, id, now)
}

func (a *Agent) tickElapsed(ctx context.Context, callID string, start time.Time) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.store.Update(callID, func(c *call.Call) {
				c.Elapsed = int64(time.Since(start).Seconds())
			})
		case <-ctx.Done():
			return
		}
	}
}

// clearSession finalizes the call record, persists it to the call log,
// and drops the session.
func (a *Agent) clearSession(state call.State) {
	sess := a.sess
	if sess == nil {
		return
	}
	sess.cancelDemo()
	if sess.stopTicker != nil {
		sess.stopTicker()
	}

	now := time.Now()
	if state == call.StateMissed {
		a.store.MarkMissed(sess.call.ID)
	} else {
		a.store.Update(sess.call.ID, func(c *call.Call) {
			c.State = state
			if c.StartedAt != nil && c.EndedAt == nil {
				c.EndedAt = &now
			}
		})
	}
	if a.recorder != nil {
		if rec := a.store.Get(sess.call.ID); rec != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := a.recorder.Record(ctx, rec); err != nil {
					a.logger.Error("recording call to log", "call_id", rec.ID, "error", err)
				}
			}()
		}
	}
	a.sess = nil
}

// advanceAutodial dials the next queued number once the line is free.
func (a *Agent) advanceAutodial(ctx context.Context) {
	if a.queue == nil || !a.queue.Active() || a.sess != nil || a.placing {
		return
	}
	next := a.queue.Next()
	if next == nil {
		return
	}
	number := next.Number()
	if number == "" {
		a.advanceAutodial(ctx)
		return
	}
	reply := make(chan error, 1)
	a.handlePlaceCall(ctx, number, next, reply)
	go func() {
		if err := <-reply; err != nil {
			a.logger.Error("autodial placement failed", "number", number, "error", err)
		}
	}()
}

// lookupContact resolves the partner details for a call in the
// background.
func (a *Agent) lookupContact(ctx context.Context, callID string) {
	go func() {
		contact, err := a.actions.GetContactInfo(ctx, callID)
		if err != nil {
			a.logger.Warn("looking up contact", "call_id", callID, "error", err)
			return
		}
		if contact != nil {
			a.post(evContactInfo{callID: callID, contact: contact})
		}
	}()
}

func (a *Agent) handleContactInfo(ev evContactInfo) {
	a.store.Update(ev.callID, func(c *call.Call) {
		c.Partner = ev.contact
		if c.DisplayName == "" {
			c.DisplayName = ev.contact.Name
		}
	})
}

// backendAction runs a fire-and-forget call-control request. Failures
// are logged and never affect the session.
func (a *Agent) backendAction(verb, callID string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		a.logger.Error("call action failed", "action", verb, "call_id", callID, "error", err)
	}
}

func (a *Agent) snapshot() Snapshot {
	if a.sess == nil {
		return Snapshot{State: StateIdle}
	}
	sess := a.sess
	rec := a.store.Get(sess.call.ID)
	if rec == nil {
		cp := *sess.call
		rec = &cp
	}
	return Snapshot{
		State:          sess.state(),
		Call:           rec,
		Muted:          sess.muted,
		TransferTarget: sess.transfer,
	}
}
