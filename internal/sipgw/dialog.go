package sipgw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/softdial/softdial/internal/agent"
	"github.com/softdial/softdial/internal/media"
)

// byeTimeout bounds how long we wait for the far end to acknowledge a
// BYE or REFER before giving up on the transaction.
const byeTimeout = 10 * time.Second

// dialog is one call leg. Outgoing dialogs own the INVITE client
// transaction (pumped by the gateway); incoming dialogs own the server
// transaction the final response goes to.
type dialog struct {
	gw           *Gateway
	callID       string
	remoteNumber string
	incoming     bool
	sessionID    uint64
	localPort    int

	cancelPump context.CancelFunc

	mu           sync.Mutex
	state        agent.DialogState
	inviteReq    *sip.Request
	inviteRes    *sip.Response // 200 OK establishing the dialog (outgoing)
	serverTx     sip.ServerTransaction
	localTag     string
	remote       *mediaEndpoint
	senders      *trackSenders
	remoteTracks []media.Track
	cseq         uint32
}

func (d *dialog) State() agent.DialogState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// setState transitions the dialog and notifies the orchestrator.
func (d *dialog) setState(s agent.DialogState) {
	d.mu.Lock()
	if d.state == s {
		d.mu.Unlock()
		return
	}
	d.state = s
	d.mu.Unlock()
	d.gw.notifyState(d, s)
}

func (d *dialog) RemoteNumber() string { return d.remoteNumber }

func (d *dialog) Senders() media.Senders {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.senders == nil {
		return nil
	}
	return d.senders
}

func (d *dialog) RemoteTracks() []media.Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteTracks
}

// Accept answers an incoming INVITE with a 200 OK carrying our SDP
// answer, then acquires local media in the background.
func (d *dialog) Accept(ctx context.Context, constraints media.Constraints) error {
	if !d.incoming {
		return fmt.Errorf("accept on outgoing dialog")
	}
	d.mu.Lock()
	req, tx := d.inviteReq, d.serverTx
	d.mu.Unlock()
	if tx == nil {
		return fmt.Errorf("no pending invite transaction")
	}

	remote, err := parseRemoteEndpoint(req.Body())
	if err != nil {
		d.respond(488, "Not Acceptable Here")
		return fmt.Errorf("negotiating media: %w", err)
	}
	answer, err := buildAnswer(d.gw.mediaIP(), d.localPort, d.sessionID, remote)
	if err != nil {
		d.respond(488, "Not Acceptable Here")
		return fmt.Errorf("negotiating media: %w", err)
	}

	res := sip.NewResponseFromRequest(req, 200, "OK", answer)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Contact", d.gw.contactURI()))
	d.tagResponse(res)
	if err := tx.Respond(res); err != nil {
		return fmt.Errorf("answering invite: %w", err)
	}

	d.mu.Lock()
	d.remote = remote
	d.remoteTracks = []media.Track{newRemoteTrack(remote)}
	d.mu.Unlock()
	d.setState(agent.DialogEstablished)
	d.gw.emitRemoteTrack(d)

	d.gw.acquireMedia(d, constraints)
	return nil
}

// Reject declines an incoming INVITE with the given status code.
func (d *dialog) Reject(statusCode int) error {
	if !d.incoming {
		return fmt.Errorf("reject on outgoing dialog")
	}
	d.respond(statusCode, reasonFor(statusCode))
	d.setState(agent.DialogTerminated)
	d.gw.untrack(d)
	return nil
}

// Cancel aborts an unanswered outgoing INVITE. The 487 that comes back
// terminates the response pump.
func (d *dialog) Cancel() error {
	if d.incoming {
		return fmt.Errorf("cancel on incoming dialog")
	}
	d.mu.Lock()
	req := d.inviteReq
	d.mu.Unlock()
	if req == nil {
		return fmt.Errorf("no invite to cancel")
	}
	d.setState(agent.DialogTerminating)

	cancel := sip.NewCancelRequest(req)
	if err := d.gw.writeRequest(cancel); err != nil {
		return fmt.Errorf("sending cancel: %w", err)
	}
	return nil
}

// Bye terminates an established dialog.
func (d *dialog) Bye() error {
	d.setState(agent.DialogTerminating)

	req, err := d.inDialogRequest(sip.BYE)
	if err != nil {
		d.finish()
		return err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), byeTimeout)
		defer cancel()
		res, err := d.gw.transact(ctx, req)
		if err != nil {
			d.gw.logger.Warn("bye failed", "call_id", d.callID, "error", err)
		} else if res.StatusCode != 200 {
			d.gw.logger.Warn("bye rejected", "call_id", d.callID, "status", res.StatusCode)
		}
		d.finish()
	}()
	return nil
}

// Refer asks the remote party to call the given number (blind transfer).
// Acceptance (a 2xx on the REFER) is reported through the sink.
func (d *dialog) Refer(ctx context.Context, number string) error {
	req, err := d.inDialogRequest(sip.REFER)
	if err != nil {
		return err
	}
	referTo := fmt.Sprintf("<sip:%s@%s>", number, d.gw.pbxHostport())
	req.AppendHeader(sip.NewHeader("Refer-To", referTo))
	req.AppendHeader(sip.NewHeader("Referred-By", d.gw.contactURI()))

	go func() {
		refCtx, cancel := context.WithTimeout(context.Background(), byeTimeout)
		defer cancel()
		res, err := d.gw.transact(refCtx, req)
		if err != nil {
			d.gw.logger.Warn("refer failed", "call_id", d.callID, "number", number, "error", err)
			return
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			d.gw.logger.Warn("refer rejected",
				"call_id", d.callID,
				"number", number,
				"status", res.StatusCode,
			)
			return
		}
		d.gw.emitReferAccepted(d)
	}()
	return nil
}

// finish marks the dialog terminated and removes it from the gateway.
func (d *dialog) finish() {
	d.setState(agent.DialogTerminated)
	d.gw.untrack(d)
}

// respond sends a final response on the incoming invite transaction.
func (d *dialog) respond(code int, reason string) {
	d.mu.Lock()
	req, tx := d.inviteReq, d.serverTx
	d.mu.Unlock()
	if tx == nil {
		return
	}
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	d.tagResponse(res)
	if err := tx.Respond(res); err != nil {
		d.gw.logger.Error("sending response", "call_id", d.callID, "code", code, "error", err)
	}
}

// tagResponse stamps our dialog tag on the To header. The same tag is
// reused for every response so the far end sees one dialog.
func (d *dialog) tagResponse(res *sip.Response) {
	to := res.To()
	if to == nil {
		return
	}
	if _, ok := to.Params.Get("tag"); ok {
		return
	}
	d.mu.Lock()
	if d.localTag == "" {
		d.localTag = uuid.NewString()[:13]
	}
	tag := d.localTag
	d.mu.Unlock()
	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	to.Params.Add("tag", tag)
}

// inDialogRequest builds a request inside the established dialog: From
// carries our tag, To the remote tag, Call-ID and a fresh CSeq complete
// the dialog identification.
func (d *dialog) inDialogRequest(method sip.RequestMethod) (*sip.Request, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inviteReq == nil {
		return nil, fmt.Errorf("no dialog to build %s in", method)
	}

	var recipient sip.Uri
	var from, to sip.Header
	if d.incoming {
		// We are the UAS: our identity is the INVITE's To, theirs the From.
		recipient = *d.inviteReq.Recipient.Clone()
		if contact := d.inviteReq.Contact(); contact != nil {
			recipient = *contact.Address.Clone()
		}
		if h := d.inviteReq.To(); h != nil {
			fh := &sip.FromHeader{DisplayName: h.DisplayName, Address: *h.Address.Clone(), Params: sip.NewParams()}
			if tag, ok := h.Params.Get("tag"); ok {
				fh.Params.Add("tag", tag)
			} else {
				fh.Params.Add("tag", d.localTag)
			}
			from = fh
		}
		if h := d.inviteReq.From(); h != nil {
			th := &sip.ToHeader{DisplayName: h.DisplayName, Address: *h.Address.Clone(), Params: sip.NewParams()}
			if tag, ok := h.Params.Get("tag"); ok {
				th.Params.Add("tag", tag)
			}
			to = th
		}
	} else {
		recipient = *d.inviteReq.Recipient.Clone()
		if d.inviteRes != nil {
			if contact := d.inviteRes.Contact(); contact != nil {
				recipient = *contact.Address.Clone()
			}
		}
		if h := d.inviteReq.From(); h != nil {
			from = sip.HeaderClone(h)
		}
		if d.inviteRes != nil {
			if h := d.inviteRes.To(); h != nil {
				to = sip.HeaderClone(h)
			}
		}
	}

	req := sip.NewRequest(method, recipient)
	req.SetTransport(d.inviteReq.Transport())
	if from != nil {
		req.AppendHeader(from)
	}
	if to != nil {
		req.AppendHeader(to)
	}
	if h := d.inviteReq.CallID(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	d.cseq++
	cseq := &sip.CSeqHeader{SeqNo: d.cseq, MethodName: method}
	req.AppendHeader(cseq)
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	return req, nil
}

// reasonFor maps the status codes the orchestrator sends to their
// canonical reason phrases.
func reasonFor(code int) string {
	switch code {
	case 486:
		return "Busy Here"
	case 487:
		return "Request Terminated"
	case 488:
		return "Not Acceptable Here"
	case 603:
		return "Decline"
	default:
		return "Call Ended"
	}
}

// trackSenders adapts an acquired capture stream to the orchestrator's
// sender interface.
type trackSenders struct {
	mu     sync.Mutex
	tracks []media.Track
}

func (s *trackSenders) Tracks() []media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]media.Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *trackSenders) ReplaceTrack(t media.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, old := range s.tracks {
		old.Close()
	}
	s.tracks = []media.Track{t}
	return nil
}

// remoteTrack is the handle for the far end's audio stream.
type remoteTrack struct {
	id string

	mu      sync.Mutex
	enabled bool
}

func newRemoteTrack(ep *mediaEndpoint) *remoteTrack {
	return &remoteTrack{
		id:      fmt.Sprintf("rtp:%s:%d", ep.IP, ep.Port),
		enabled: true,
	}
}

func (t *remoteTrack) ID() string { return t.id }

func (t *remoteTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *remoteTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *remoteTrack) Close() error { return nil }
