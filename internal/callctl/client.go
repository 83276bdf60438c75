// Package callctl talks to the call-control backend that owns the
// canonical call records: creating a record when a call is placed or
// received, and marking lifecycle transitions (start, end, abort, reject,
// miss). Apart from Create, whose result the orchestrator needs before it
// can build a session, every action is fire-and-forget.
package callctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/softdial/softdial/internal/call"
)

// Actions is the call-control contract consumed by the orchestrator.
type Actions interface {
	// Create registers a new call and returns the canonical record.
	Create(ctx context.Context, p CreateParams) (*call.Call, error)
	// Start marks the moment media began flowing.
	Start(ctx context.Context, callID string) error
	// End terminates the call; when activityName is non-empty the linked
	// activity record is closed as done.
	End(ctx context.Context, callID, activityName string) error
	// Abort ends a call that never got past setup.
	Abort(ctx context.Context, callID string) error
	// Reject marks a declined call.
	Reject(ctx context.Context, callID string) error
	// Miss marks a call the remote party abandoned before answer.
	Miss(ctx context.Context, callID string) error
	// GetContactInfo resolves the partner for a call's phone number.
	GetContactInfo(ctx context.Context, callID string) (*call.Contact, error)
}

// CreateParams is the payload for Create.
type CreateParams struct {
	Direction   call.Direction `json:"direction"`
	PhoneNumber string         `json:"phone_number"`
	State       call.State     `json:"state,omitempty"`
	ActivityID  string         `json:"activity_id,omitempty"`
	PartnerID   string         `json:"partner_id,omitempty"`
}

// envelope is the backend's standard response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Client is an HTTP client for the call-control backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

// NewClient creates a call-control client. baseURL is the backend endpoint,
// token an API token sent with each request.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		token:      token,
		logger:     logger.With("subsystem", "callctl"),
	}
}

// Create registers a call with the backend and decodes the canonical
// record it returns.
func (c *Client) Create(ctx context.Context, p CreateParams) (*call.Call, error) {
	var created call.Call
	if err := c.post(ctx, "/v1/calls", p, &created); err != nil {
		return nil, fmt.Errorf("callctl: creating call: %w", err)
	}
	return &created, nil
}

// Start marks a call as answered.
func (c *Client) Start(ctx context.Context, callID string) error {
	return c.action(ctx, callID, "start", nil)
}

// End terminates a call; a non-empty activityName also closes the linked
// activity on the backend.
func (c *Client) End(ctx context.Context, callID, activityName string) error {
	var body any
	if activityName != "" {
		body = map[string]string{"activity_name": activityName}
	}
	return c.action(ctx, callID, "end", body)
}

// Abort ends a call still in setup.
func (c *Client) Abort(ctx context.Context, callID string) error {
	return c.action(ctx, callID, "abort", nil)
}

// Reject marks a call as declined.
func (c *Client) Reject(ctx context.Context, callID string) error {
	return c.action(ctx, callID, "reject", nil)
}

// Miss marks a call as missed.
func (c *Client) Miss(ctx context.Context, callID string) error {
	return c.action(ctx, callID, "miss", nil)
}

// GetContactInfo resolves the partner contact for a call. A backend with
// no match returns an empty payload and a nil contact.
func (c *Client) GetContactInfo(ctx context.Context, callID string) (*call.Contact, error) {
	var contact call.Contact
	if err := c.post(ctx, "/v1/calls/"+callID+"/contact-info", nil, &contact); err != nil {
		return nil, fmt.Errorf("callctl: contact lookup: %w", err)
	}
	if contact.ID == "" {
		return nil, nil
	}
	return &contact, nil
}

// action posts a lifecycle transition for a call.
func (c *Client) action(ctx context.Context, callID, verb string, body any) error {
	if err := c.post(ctx, "/v1/calls/"+callID+"/"+verb, body, nil); err != nil {
		return fmt.Errorf("callctl: %s call %s: %w", verb, callID, err)
	}
	return nil
}

// post sends a JSON request and decodes the enveloped response into out
// when out is non-nil.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return fmt.Errorf("backend error (status %d): %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}
