package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/softdial/softdial/internal/agent"
	"github.com/softdial/softdial/internal/auth"
	"github.com/softdial/softdial/internal/autodial"
	"github.com/softdial/softdial/internal/call"
	"github.com/softdial/softdial/internal/callctl"
	"github.com/softdial/softdial/internal/config"
	"github.com/softdial/softdial/internal/database"
	"github.com/softdial/softdial/internal/media"
	"github.com/softdial/softdial/internal/notify"
	"github.com/softdial/softdial/internal/ringtone"
)

const testPassword = "correct-horse-battery-staple"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopOutput struct{}

func (nopOutput) Attach([]media.Track) {}
func (nopOutput) Detach()              {}

type fixture struct {
	server *Server
	agent  *agent.Agent
	repo   database.CallLogRepository
	token  string
}

// newFixture builds a demo-mode agent behind a fully wired API server
// and logs in for a bearer token.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := discardLogger()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing test password: %v", err)
	}
	cfg := &config.Config{
		Mode:            "demo",
		CallMethod:      "voip",
		APIPasswordHash: hash,
	}

	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := database.NewCallLogRepository(db)

	notifier := notify.New(logger)
	queue := autodial.New()
	a := agent.New(agent.Deps{
		Config:   cfg,
		Actions:  callctl.NewLocal(logger),
		Store:    call.NewStore(),
		Tones:    ringtone.NewPlayer(ringtone.NullSink{}, nil, logger),
		Notifier: notifier,
		Devices:  &media.LoopbackDevices{},
		Output:   nopOutput{},
		Queue:    queue,
		Recorder: repo,
		Logger:   logger,
	})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("starting agent: %v", err)
	}
	t.Cleanup(a.Stop)

	f := &fixture{
		server: NewServer(a, repo, queue, notifier, cfg, []byte("test-signing-secret"), nil, logger),
		agent:  a,
		repo:   repo,
	}
	f.token = f.login(t)
	return f
}

// do runs a request through the router with the fixture's bearer token.
func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"password": testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}
	var env struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	if env.Data.Token == "" {
		t.Fatal("login returned an empty token")
	}
	return env.Data.Token
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if env.Error != "" {
		t.Fatalf("unexpected api error: %s", env.Error)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHealthIsUnauthenticated(t *testing.T) {
	f := newFixture(t)
	f.token = ""

	w := f.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.token = ""

	w := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"password": "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("login status = %d, want 401", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/status"},
		{http.MethodGet, "/api/v1/session"},
		{http.MethodPost, "/api/v1/calls"},
		{http.MethodGet, "/api/v1/call-log"},
		{http.MethodGet, "/api/v1/autodial"},
	}

	for _, tt := range paths {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			f.server.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}

			req = httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Authorization", "Bearer not-a-token")
			w = httptest.NewRecorder()
			f.server.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("garbage token status = %d, want 401", w.Code)
			}
		})
	}
}

func TestStatusReportsIdleSession(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var status struct {
		Mode         string `json:"mode"`
		SessionState string `json:"session_state"`
	}
	decodeData(t, w, &status)
	if status.Mode != "demo" {
		t.Errorf("mode = %q, want demo", status.Mode)
	}
	if status.SessionState != "idle" {
		t.Errorf("session_state = %q, want idle", status.SessionState)
	}
}

func TestPlaceCallAndHangUp(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/calls", map[string]string{"number": "555 12-34"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("place call status = %d, body %s", w.Code, w.Body.String())
	}
	var snap agent.Snapshot
	decodeData(t, w, &snap)
	if snap.State != agent.StateOutgoingTrying {
		t.Errorf("state = %q, want %q", snap.State, agent.StateOutgoingTrying)
	}
	if snap.Call == nil || snap.Call.PhoneNumber != "5551234" {
		t.Errorf("snapshot call = %+v, want number 5551234", snap.Call)
	}

	w = f.do(t, http.MethodPost, "/api/v1/session/hangup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("hangup status = %d, body %s", w.Code, w.Body.String())
	}
	decodeData(t, w, &snap)
	if snap.State != agent.StateIdle {
		t.Errorf("state after hangup = %q, want idle", snap.State)
	}
}

func TestSecondCallConflicts(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/calls", map[string]string{"number": "5551234"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("first call status = %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/v1/calls", map[string]string{"number": "5555678"})
	if w.Code != http.StatusConflict {
		t.Errorf("second call status = %d, want 409", w.Code)
	}
}

func TestPlaceCallValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/calls", map[string]string{"number": "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank number status = %d, want 400", w.Code)
	}
}

func TestMuteRoundTrip(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/calls", map[string]string{"number": "5551234"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("place call status = %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/v1/session/mute", map[string]any{"muted": true})
	if w.Code != http.StatusOK {
		t.Fatalf("mute status = %d, body %s", w.Code, w.Body.String())
	}
	var snap agent.Snapshot
	decodeData(t, w, &snap)
	if !snap.Muted {
		t.Error("snapshot not muted after mute")
	}

	w = f.do(t, http.MethodPost, "/api/v1/session/mute", map[string]any{"toggle": true})
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", w.Code)
	}
	decodeData(t, w, &snap)
	if snap.Muted {
		t.Error("snapshot still muted after toggle")
	}
}

func TestCallLogAfterCompletedCall(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/calls", map[string]string{"number": "5551234"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("place call status = %d", w.Code)
	}

	// Demo mode answers by itself; wait for the established phase, then
	// hang up and wait for the recorder to flush.
	waitFor(t, func() bool {
		var snap agent.Snapshot
		snap = f.agent.Session(context.Background())
		return snap.State == agent.StateEstablished
	}, "demo call never established")

	w = f.do(t, http.MethodPost, "/api/v1/session/hangup", map[string]any{"activity_done": true})
	if w.Code != http.StatusOK {
		t.Fatalf("hangup status = %d", w.Code)
	}

	waitFor(t, func() bool {
		_, total, err := f.repo.List(context.Background(), database.CallLogFilter{})
		return err == nil && total == 1
	}, "finished call never reached the log")

	w = f.do(t, http.MethodGet, "/api/v1/call-log?disposition=completed", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("call-log status = %d, body %s", w.Code, w.Body.String())
	}
	var list struct {
		Entries []database.CallLogEntry `json:"entries"`
		Total   int                     `json:"total"`
	}
	decodeData(t, w, &list)
	if list.Total != 1 || len(list.Entries) != 1 {
		t.Fatalf("call-log = %d entries, total %d, want 1/1", len(list.Entries), list.Total)
	}
	if list.Entries[0].PhoneNumber != "5551234" {
		t.Errorf("logged number = %q, want 5551234", list.Entries[0].PhoneNumber)
	}

	w = f.do(t, http.MethodGet, "/api/v1/call-log/counts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("counts status = %d", w.Code)
	}
	var counts database.CallLogCounts
	decodeData(t, w, &counts)
	if counts.Total != 1 || counts.Completed != 1 {
		t.Errorf("counts = %+v, want total 1 completed 1", counts)
	}
}

func TestCallLogRejectsBadPagination(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/api/v1/call-log?limit=x",
		"/api/v1/call-log?offset=-1",
	} {
		w := f.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", path, w.Code)
		}
	}
}

func TestAutodialLifecycle(t *testing.T) {
	f := newFixture(t)

	activities := []map[string]any{
		{"id": "AV-1", "kind": "phonecall", "phone_number": "5551000"},
		{"id": "AV-2", "kind": "phonecall", "phone_number": "5552000"},
	}
	w := f.do(t, http.MethodPost, "/api/v1/autodial", map[string]any{"activities": activities})
	if w.Code != http.StatusAccepted {
		t.Fatalf("autodial start status = %d, body %s", w.Code, w.Body.String())
	}

	// The first activity is dialed immediately, leaving one queued.
	waitFor(t, func() bool {
		snap := f.agent.Session(context.Background())
		return snap.Call != nil && snap.Call.PhoneNumber == "5551000"
	}, "autodial never placed the first call")

	w = f.do(t, http.MethodGet, "/api/v1/autodial", nil)
	var status struct {
		Active  bool `json:"active"`
		Pending int  `json:"pending"`
	}
	decodeData(t, w, &status)
	if !status.Active || status.Pending != 1 {
		t.Errorf("autodial status = %+v, want active with 1 pending", status)
	}

	w = f.do(t, http.MethodDelete, "/api/v1/autodial", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("autodial stop status = %d", w.Code)
	}
	decodeData(t, w, &status)
	if status.Active || status.Pending != 0 {
		t.Errorf("autodial status after stop = %+v, want inactive empty", status)
	}
}

func TestAutodialValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/autodial", map[string]any{"activities": []any{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/v1/autodial", map[string]any{
		"activities": []map[string]any{{"id": "AV-1", "kind": "phonecall"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("numberless activity status = %d, want 400", w.Code)
	}
}

func TestTransferWithoutCallConflicts(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/session/transfer", map[string]string{"number": "5559999"})
	if w.Code != http.StatusConflict {
		t.Errorf("transfer status = %d, want 409", w.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t)
	f.token = ""

	// The auth limiter allows a burst of 10; the requests beyond it must
	// be turned away.
	limited := false
	for i := 0; i < 30; i++ {
		w := f.do(t, http.MethodPost, "/api/v1/auth/login",
			map[string]string{"password": fmt.Sprintf("guess-%d", i)})
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("login was never rate limited")
	}
}
