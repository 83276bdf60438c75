package sipgw

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

// defaultRegisterExpiry is the expiry requested in REGISTER; the
// registrar may shorten it.
const defaultRegisterExpiry = 600

// Register sends the initial REGISTER and starts the background refresh
// loop. A refresh failure is reported as a disconnect so the
// orchestrator can drive reconnection.
func (g *Gateway) Register(ctx context.Context) error {
	grantedExpiry, err := g.sendRegister(ctx, defaultRegisterExpiry)
	if err != nil {
		return err
	}
	g.logger.Info("registered", "username", g.cfg.Username, "expires_in", grantedExpiry)

	g.mu.Lock()
	if g.regCancel != nil {
		g.regCancel()
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	g.regCancel = cancel
	g.mu.Unlock()

	go g.refreshLoop(loopCtx, grantedExpiry)
	return nil
}

// refreshLoop re-registers before the granted expiry lapses. Refreshing
// at 80% of the expiry leaves headroom for network delays.
func (g *Gateway) refreshLoop(ctx context.Context, grantedExpiry int) {
	for {
		refreshInterval := time.Duration(float64(grantedExpiry)*0.8) * time.Second

		select {
		case <-ctx.Done():
			return
		case <-time.After(refreshInterval):
			g.logger.Debug("re-registering", "username", g.cfg.Username)
		}

		expiry, err := g.sendRegister(ctx, defaultRegisterExpiry)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.logger.Error("registration refresh failed", "error", err)
			g.disconnected(err)
			return
		}
		grantedExpiry = expiry
	}
}

// sendRegister sends one REGISTER with digest auth handling. On success
// it returns the server-granted expiry; when the server omits one, the
// requested expiry is returned.
func (g *Gateway) sendRegister(ctx context.Context, expiry int) (int, error) {
	client := g.currentClient()
	if client == nil {
		return 0, fmt.Errorf("gateway not started")
	}

	recipientStr := fmt.Sprintf("sip:%s:%d", g.host, g.port)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return 0, fmt.Errorf("parsing recipient uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetTransport(strings.ToUpper(g.transport))

	// The From/To AOR identifies the extension being registered.
	aor := fmt.Sprintf("<sip:%s@%s>", g.cfg.Username, g.cfg.PBXAddress)
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))
	req.AppendHeader(sip.NewHeader("Contact", g.contactURI()))
	req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", expiry)))

	tx, err := client.TransactionRequest(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return 0, fmt.Errorf("sending register: %w", err)
	}

	res, err := getResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return 0, fmt.Errorf("waiting for register response: %w", err)
	}

	if res.StatusCode == 401 || res.StatusCode == 407 {
		authReq, err := g.withDigestAuth(req, res, sip.REGISTER.String(), recipientStr)
		if err != nil {
			return 0, err
		}

		tx2, err := client.TransactionRequest(ctx, authReq,
			sipgo.ClientRequestIncreaseCSEQ,
			sipgo.ClientRequestAddVia,
		)
		if err != nil {
			return 0, fmt.Errorf("sending authenticated register: %w", err)
		}

		res, err = getResponse(ctx, tx2)
		tx2.Terminate()
		if err != nil {
			return 0, fmt.Errorf("waiting for authenticated register response: %w", err)
		}
	}

	if res.StatusCode != 200 {
		return 0, fmt.Errorf("register failed with status %d %s", res.StatusCode, res.Reason)
	}

	// Per RFC 3261 §10.2.4 the registrar may shorten the requested
	// expiry. The Contact expires param takes precedence over the
	// Expires header.
	grantedExpiry := expiry
	if contactHdr := res.GetHeader("Contact"); contactHdr != nil {
		if parsed := parseContactExpires(contactHdr.Value()); parsed > 0 {
			grantedExpiry = parsed
		}
	} else if expiresHdr := res.GetHeader("Expires"); expiresHdr != nil {
		if parsed := parseExpiresHeader(expiresHdr.Value()); parsed > 0 {
			grantedExpiry = parsed
		}
	}

	return grantedExpiry, nil
}

// withDigestAuth answers a 401/407 challenge: it clones the original
// request, strips the stale Via, and appends the computed credentials.
// The caller re-sends with ClientRequestIncreaseCSEQ and
// ClientRequestAddVia.
func (g *Gateway) withDigestAuth(req *sip.Request, res *sip.Response, method, uri string) (*sip.Request, error) {
	authHeader := "WWW-Authenticate"
	authzHeader := "Authorization"
	if res.StatusCode == 407 {
		authHeader = "Proxy-Authenticate"
		authzHeader = "Proxy-Authorization"
	}

	challenge := res.GetHeader(authHeader)
	if challenge == nil {
		return nil, fmt.Errorf("received %d but no %s header", res.StatusCode, authHeader)
	}

	chal, err := digest.ParseChallenge(challenge.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing auth challenge: %w", err)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: g.cfg.Username,
		Password: g.cfg.Secret,
	})
	if err != nil {
		return nil, fmt.Errorf("computing digest: %w", err)
	}

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))
	return authReq, nil
}

// parseContactExpires extracts the ;expires= parameter from a Contact
// header value. Returns 0 when absent or unparsable.
func parseContactExpires(contactValue string) int {
	lower := strings.ToLower(contactValue)
	idx := strings.Index(lower, ";expires=")
	if idx < 0 {
		return 0
	}
	rest := contactValue[idx+len(";expires="):]

	end := strings.IndexAny(rest, ";,> \t")
	if end > 0 {
		rest = rest[:end]
	}

	val, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0
	}
	return val
}

// parseExpiresHeader parses an Expires header value (a plain integer of
// seconds). Returns 0 if parsing fails.
func parseExpiresHeader(value string) int {
	val, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return val
}
