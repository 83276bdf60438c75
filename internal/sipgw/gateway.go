// Package sipgw drives the SIP side of the agent on sipgo: registration
// with digest auth, outgoing INVITE transactions, incoming call legs, and
// in-dialog requests. It reports everything that happens to the
// orchestrator through the agent.EventSink and never touches session
// state itself.
package sipgw

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/softdial/softdial/internal/agent"
	"github.com/softdial/softdial/internal/config"
	"github.com/softdial/softdial/internal/media"
)

const (
	// inviteTimeout bounds an unanswered outgoing INVITE.
	inviteTimeout = 60 * time.Second
	// localSIPPort is the local signaling port for datagram transports.
	localSIPPort = 5070
	// rtpPortBase/rtpPortSpan bound the local RTP port range. Ports are
	// handed out pairwise (RTP on even, RTCP above).
	rtpPortBase = 10000
	rtpPortSpan = 1000
)

// Gateway implements agent.Engine on the sipgo stack.
type Gateway struct {
	cfg     *config.Config
	devices media.Devices
	logger  *slog.Logger

	transport string // "udp", "tcp", "ws" or "wss"
	host      string
	port      int

	sink agent.EventSink

	mu           sync.Mutex
	ua           *sipgo.UserAgent
	client       *sipgo.Client
	server       *sipgo.Server
	dialogs      map[string]*dialog // keyed by Call-ID
	listenCancel context.CancelFunc
	regCancel    context.CancelFunc

	portSeq    atomic.Uint32
	sessionSeq atomic.Uint64
}

// New creates a gateway for the configured signaling server.
func New(cfg *config.Config, devices media.Devices, logger *slog.Logger) (*Gateway, error) {
	transport, host, port, err := parseServerURL(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	return &Gateway{
		cfg:       cfg,
		devices:   devices,
		logger:    logger.With("subsystem", "sipgw"),
		transport: transport,
		host:      host,
		port:      port,
		dialogs:   make(map[string]*dialog),
	}, nil
}

// parseServerURL splits a signaling URL (wss://host:port/ws,
// sip:host:port;transport=tcp, or plain host:port) into transport, host
// and port.
func parseServerURL(raw string) (transport, host string, port int, err error) {
	if raw == "" {
		return "", "", 0, fmt.Errorf("empty server url")
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", 0, err
		}
		host = u.Hostname()
		switch u.Scheme {
		case "ws":
			transport, port = "ws", 80
		case "wss":
			transport, port = "wss", 443
		case "udp", "sip":
			transport, port = "udp", 5060
		case "tcp":
			transport, port = "tcp", 5060
		default:
			return "", "", 0, fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return "", "", 0, fmt.Errorf("invalid port %q", p)
			}
		}
		if host == "" {
			return "", "", 0, fmt.Errorf("missing host in %q", raw)
		}
		return transport, host, port, nil
	}

	// Bare host or host:port defaults to UDP.
	host, portStr, splitErr := net.SplitHostPort(raw)
	if splitErr != nil {
		return "udp", raw, 5060, nil
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return "udp", host, port, nil
}

// SetSink registers the orchestrator's event sink. Must be called before
// Start.
func (g *Gateway) SetSink(sink agent.EventSink) {
	g.sink = sink
}

// Start builds the sipgo user agent, client and server, registers the
// method handlers, and starts listening for inbound requests.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ua, err := sipgo.NewUA(sipgo.WithUserAgent("softdial"))
	if err != nil {
		return fmt.Errorf("creating sip user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua, sipgo.WithServerLogger(g.logger))
	if err != nil {
		ua.Close()
		return fmt.Errorf("creating sip server: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientLogger(g.logger))
	if err != nil {
		srv.Close()
		ua.Close()
		return fmt.Errorf("creating sip client: %w", err)
	}

	g.ua, g.server, g.client = ua, srv, client

	srv.OnInvite(g.onInvite)
	srv.OnCancel(g.onCancel)
	srv.OnBye(g.onBye)
	srv.OnAck(g.onAck)
	srv.OnNotify(g.onNotify)
	srv.OnOptions(g.onOptions)

	// WebSocket transports reuse the persistent client connection for
	// inbound requests; only datagram/stream transports need a listener.
	if g.transport == "udp" || g.transport == "tcp" {
		lctx, cancel := context.WithCancel(context.Background())
		g.listenCancel = cancel
		addr := fmt.Sprintf("0.0.0.0:%d", localSIPPort)
		go func() {
			g.logger.Info("sip listener starting", "transport", g.transport, "addr", addr)
			if err := srv.ListenAndServe(lctx, g.transport, addr); err != nil && lctx.Err() == nil {
				g.logger.Error("sip listener stopped", "error", err)
				g.disconnected(err)
			}
		}()
	}

	g.logger.Info("sip gateway started",
		"server", fmt.Sprintf("%s:%d", g.host, g.port),
		"transport", g.transport,
	)
	return nil
}

// Stop tears the stack down. Active dialogs are abandoned; the PBX times
// them out.
func (g *Gateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.regCancel != nil {
		g.regCancel()
		g.regCancel = nil
	}
	if g.listenCancel != nil {
		g.listenCancel()
		g.listenCancel = nil
	}
	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
	if g.server != nil {
		g.server.Close()
		g.server = nil
	}
	if g.ua != nil {
		g.ua.Close()
		g.ua = nil
	}
}

// Reconnect rebuilds the SIP client on the existing user agent. The
// caller re-registers afterwards.
func (g *Gateway) Reconnect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ua == nil {
		return fmt.Errorf("gateway not started")
	}
	if g.client != nil {
		g.client.Close()
	}
	client, err := sipgo.NewClient(g.ua, sipgo.WithClientLogger(g.logger))
	if err != nil {
		return fmt.Errorf("recreating sip client: %w", err)
	}
	g.client = client
	g.logger.Info("sip client rebuilt")
	return nil
}

// Invite starts an outgoing call. It returns as soon as the INVITE
// transaction is created; responses are pumped to the sink.
func (g *Gateway) Invite(ctx context.Context, number string, constraints media.Constraints) (agent.Dialog, error) {
	client := g.currentClient()
	if client == nil {
		return nil, fmt.Errorf("gateway not started")
	}

	recipientStr := fmt.Sprintf("sip:%s@%s:%d", number, g.host, g.port)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return nil, fmt.Errorf("parsing invite uri: %w", err)
	}

	sessionID := g.nextSessionID()
	localPort := g.allocRTPPort()
	offer, err := buildOffer(g.mediaIP(), localPort, sessionID)
	if err != nil {
		return nil, err
	}

	req := sip.NewRequest(sip.INVITE, recipient)
	req.SetTransport(strings.ToUpper(g.transport))
	req.SetBody(offer)
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.AppendHeader(sip.NewHeader("Contact", g.contactURI()))

	pumpCtx, cancel := context.WithTimeout(context.Background(), inviteTimeout)
	tx, err := client.TransactionRequest(pumpCtx, req, sipgo.ClientRequestBuild)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sending invite: %w", err)
	}

	callID := ""
	if h := req.CallID(); h != nil {
		callID = h.Value()
	}
	d := &dialog{
		gw:           g,
		callID:       callID,
		remoteNumber: number,
		sessionID:    sessionID,
		localPort:    localPort,
		cancelPump:   cancel,
		state:        agent.DialogEstablishing,
		inviteReq:    req,
	}
	g.track(d)

	g.acquireMedia(d, constraints)
	go g.pumpInvite(pumpCtx, d, req, tx)

	g.logger.Info("invite sent", "call_id", callID, "number", number)
	return d, nil
}

// pumpInvite consumes responses to an outgoing INVITE, handling the
// digest challenge once and translating everything else into sink events.
func (g *Gateway) pumpInvite(ctx context.Context, d *dialog, req *sip.Request, tx sip.ClientTransaction) {
	defer d.cancelPump()

	authed := false
	for {
		var res *sip.Response
		select {
		case <-ctx.Done():
			tx.Terminate()
			g.logger.Warn("invite timed out", "call_id", d.callID)
			g.sink.OnInviteRejected(d, 408, "Request Timeout")
			d.finish()
			return
		case <-tx.Done():
			tx.Terminate()
			if err := tx.Err(); err != nil {
				g.logger.Error("invite transaction failed", "call_id", d.callID, "error", err)
				g.sink.OnInviteRejected(d, 503, "Service Unavailable")
			}
			d.finish()
			return
		case res = <-tx.Responses():
		}

		switch {
		case res.StatusCode == 100:
			continue

		case res.StatusCode == 180 || res.StatusCode == 183:
			g.sink.OnInviteProgress(d, res.StatusCode)

		case (res.StatusCode == 401 || res.StatusCode == 407) && !authed:
			authed = true
			tx.Terminate()
			authReq, err := g.withDigestAuth(req, res, "INVITE", fmt.Sprintf("sip:%s@%s:%d", d.remoteNumber, g.host, g.port))
			if err != nil {
				g.logger.Error("invite auth failed", "call_id", d.callID, "error", err)
				g.sink.OnInviteRejected(d, res.StatusCode, res.Reason)
				d.finish()
				return
			}
			client := g.currentClient()
			if client == nil {
				d.finish()
				return
			}
			authTx, err := client.TransactionRequest(ctx, authReq,
				sipgo.ClientRequestIncreaseCSEQ,
				sipgo.ClientRequestAddVia,
			)
			if err != nil {
				g.logger.Error("sending authenticated invite", "call_id", d.callID, "error", err)
				g.sink.OnInviteRejected(d, 503, "Service Unavailable")
				d.finish()
				return
			}
			req, tx = authReq, authTx

		case res.StatusCode >= 200 && res.StatusCode < 300:
			ack := buildACK(req, res)
			if client := g.currentClient(); client != nil {
				if err := client.WriteRequest(ack); err != nil {
					g.logger.Error("sending ack", "call_id", d.callID, "error", err)
				}
			}
			remote, err := parseRemoteEndpoint(res.Body())
			if err != nil {
				g.logger.Error("parsing sdp answer", "call_id", d.callID, "error", err)
				g.sink.OnMediaFailure(d, fmt.Errorf("negotiating media: %w", err))
			}
			d.mu.Lock()
			d.inviteRes = res
			if remote != nil {
				d.remote = remote
				d.remoteTracks = []media.Track{newRemoteTrack(remote)}
			}
			if cseq := req.CSeq(); cseq != nil {
				d.cseq = cseq.SeqNo
			}
			d.mu.Unlock()
			d.setState(agent.DialogEstablished)
			g.sink.OnInviteAccepted(d)
			if remote != nil {
				g.sink.OnRemoteTrack(d)
			}
			tx.Terminate()
			return

		case res.StatusCode >= 300:
			tx.Terminate()
			g.logger.Info("invite rejected",
				"call_id", d.callID,
				"status", res.StatusCode,
				"reason", res.Reason,
			)
			g.sink.OnInviteRejected(d, res.StatusCode, res.Reason)
			d.finish()
			return
		}
	}
}

// buildACK constructs the ACK for a 2xx final response. 2xx ACKs form
// their own transaction, so the request is written directly.
func buildACK(inviteReq *sip.Request, inviteRes *sip.Response) *sip.Request {
	recipient := &inviteReq.Recipient
	if contact := inviteRes.Contact(); contact != nil {
		recipient = &contact.Address
	}

	ack := sip.NewRequest(sip.ACK, *recipient.Clone())
	ack.SipVersion = inviteReq.SipVersion

	if len(inviteReq.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", inviteReq, ack)
	}
	if h := inviteReq.From(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteRes.To(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CallID(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CSeq(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if cseq := ack.CSeq(); cseq != nil {
		cseq.MethodName = sip.ACK
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)
	if h := inviteReq.Contact(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	ack.SetTransport(inviteReq.Transport())
	ack.SetSource(inviteReq.Source())
	return ack
}

// Inbound request handlers.

func (g *Gateway) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	number := ""
	if from := req.From(); from != nil {
		number = from.Address.User
	}
	callID := ""
	if h := req.CallID(); h != nil {
		callID = h.Value()
	}

	d := &dialog{
		gw:           g,
		callID:       callID,
		remoteNumber: number,
		incoming:     true,
		sessionID:    g.nextSessionID(),
		localPort:    g.allocRTPPort(),
		state:        agent.DialogEstablishing,
		inviteReq:    req,
		serverTx:     tx,
	}
	if cseq := req.CSeq(); cseq != nil {
		d.cseq = cseq.SeqNo
	}
	g.track(d)

	ringing := sip.NewResponseFromRequest(req, 180, "Ringing", nil)
	d.tagResponse(ringing)
	if err := tx.Respond(ringing); err != nil {
		g.logger.Error("sending 180 ringing", "call_id", callID, "error", err)
	}

	g.logger.Info("incoming invite", "call_id", callID, "number", number)
	g.sink.OnIncomingInvite(d)
}

func (g *Gateway) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil)); err != nil {
		g.logger.Error("responding to cancel", "error", err)
	}

	d := g.lookup(req)
	if d == nil || !d.incoming || d.State() == agent.DialogEstablished {
		return
	}
	d.respond(487, "Request Terminated")
	d.setState(agent.DialogTerminated)
	g.untrack(d)
	g.logger.Info("incoming invite canceled", "call_id", d.callID)
	g.sink.OnInviteCanceled(d)
}

func (g *Gateway) onBye(req *sip.Request, tx sip.ServerTransaction) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil)); err != nil {
		g.logger.Error("responding to bye", "error", err)
	}

	d := g.lookup(req)
	if d == nil {
		return
	}
	d.setState(agent.DialogTerminated)
	g.untrack(d)
	g.logger.Info("remote hangup", "call_id", d.callID)
	g.sink.OnBye(d)
}

func (g *Gateway) onAck(req *sip.Request, tx sip.ServerTransaction) {
	// ACK for our 200 OK; nothing to do, the dialog is already up.
}

func (g *Gateway) onNotify(req *sip.Request, tx sip.ServerTransaction) {
	// REFER progress notifications; acceptance is taken from the REFER
	// response itself.
	if err := tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil)); err != nil {
		g.logger.Error("responding to notify", "error", err)
	}
}

func (g *Gateway) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil)); err != nil {
		g.logger.Error("responding to options", "error", err)
	}
}

// acquireMedia captures local audio for a dialog in the background and
// reports the classified outcome.
func (g *Gateway) acquireMedia(d *dialog, constraints media.Constraints) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		stream, err := g.devices.Acquire(ctx, constraints)
		if err != nil {
			g.sink.OnMediaFailure(d, err)
			return
		}
		d.mu.Lock()
		d.senders = &trackSenders{tracks: stream.AudioTracks()}
		d.mu.Unlock()
		g.sink.OnMediaSuccess(d)
	}()
}

// Helpers shared with dialog.

func (g *Gateway) notifyState(d *dialog, s agent.DialogState) {
	if g.sink != nil {
		g.sink.OnDialogState(d, s)
	}
}

func (g *Gateway) emitRemoteTrack(d *dialog) {
	if g.sink != nil {
		g.sink.OnRemoteTrack(d)
	}
}

func (g *Gateway) emitReferAccepted(d *dialog) {
	if g.sink != nil {
		g.sink.OnReferAccepted(d)
	}
}

func (g *Gateway) disconnected(err error) {
	if g.sink != nil {
		g.sink.OnDisconnect(err)
	}
}

func (g *Gateway) track(d *dialog) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dialogs[d.callID] = d
}

func (g *Gateway) untrack(d *dialog) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.dialogs, d.callID)
}

// lookup finds the dialog a request belongs to via its Call-ID.
func (g *Gateway) lookup(req *sip.Request) *dialog {
	h := req.CallID()
	if h == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dialogs[h.Value()]
}

func (g *Gateway) currentClient() *sipgo.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client
}

// transact sends a request and waits for its first final response.
func (g *Gateway) transact(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	client := g.currentClient()
	if client == nil {
		return nil, fmt.Errorf("gateway not started")
	}
	tx, err := client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", req.Method, err)
	}
	defer tx.Terminate()
	return getResponse(ctx, tx)
}

func (g *Gateway) writeRequest(req *sip.Request) error {
	client := g.currentClient()
	if client == nil {
		return fmt.Errorf("gateway not started")
	}
	return client.WriteRequest(req)
}

// getResponse waits for the first response from a SIP client transaction.
func getResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}

func (g *Gateway) pbxHostport() string {
	return fmt.Sprintf("%s:%d", g.host, g.port)
}

func (g *Gateway) contactURI() string {
	if g.transport == "udp" || g.transport == "tcp" {
		return fmt.Sprintf("<sip:%s@%s:%d>", g.cfg.Username, g.mediaIP(), localSIPPort)
	}
	return fmt.Sprintf("<sip:%s@%s;transport=%s>", g.cfg.Username, g.mediaIP(), g.transport)
}

// mediaIP is the local address facing the PBX, determined by the routing
// table rather than interface enumeration.
func (g *Gateway) mediaIP() string {
	conn, err := net.Dial("udp", g.pbxHostport())
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func (g *Gateway) allocRTPPort() int {
	n := g.portSeq.Add(1)
	return rtpPortBase + int(n%uint32(rtpPortSpan/2))*2
}

func (g *Gateway) nextSessionID() uint64 {
	return uint64(time.Now().Unix())<<16 | (g.sessionSeq.Add(1) & 0xffff)
}
