package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecovererTurnsPanicInto500(t *testing.T) {
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	handler := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil dialog")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/session/accept", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if resp["error"] != "internal server error" {
		t.Errorf("error = %v, want generic message without panic detail", resp["error"])
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parsing log line: %v", err)
	}
	if entry["msg"] != "panic recovered" {
		t.Errorf("log msg = %v", entry["msg"])
	}
	if entry["panic"] != "nil dialog" {
		t.Errorf("logged panic = %v, want the panic value", entry["panic"])
	}
	if entry["path"] != "/api/v1/session/accept" {
		t.Errorf("logged path = %v", entry["path"])
	}
	if stack, ok := entry["stack"].(string); !ok || stack == "" {
		t.Error("log line carries no stack trace")
	}
}

func TestRecovererPassesThroughWithoutPanic(t *testing.T) {
	handler := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("placed"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/calls", nil))

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rr.Code)
	}
	if rr.Body.String() != "placed" {
		t.Errorf("body = %q", rr.Body.String())
	}
}
