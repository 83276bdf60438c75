package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStructuredLogger(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		handler    http.HandlerFunc
		wantStatus float64
	}{
		{
			name:   "implicit 200",
			method: http.MethodGet,
			path:   "/api/v1/status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("ok"))
			},
			wantStatus: 200,
		},
		{
			name:   "explicit status",
			method: http.MethodPost,
			path:   "/api/v1/session/hangup",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
			},
			wantStatus: 409,
		},
		{
			name:   "first WriteHeader wins",
			method: http.MethodGet,
			path:   "/api/v1/call-log",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantStatus: 200,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			StructuredLogger(tt.handler).ServeHTTP(rr, req)

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("parsing log line: %v", err)
			}
			if entry["method"] != tt.method {
				t.Errorf("logged method = %v, want %s", entry["method"], tt.method)
			}
			if entry["path"] != tt.path {
				t.Errorf("logged path = %v, want %s", entry["path"], tt.path)
			}
			if entry["status"] != tt.wantStatus {
				t.Errorf("logged status = %v, want %v", entry["status"], tt.wantStatus)
			}
			if _, ok := entry["duration_ms"]; !ok {
				t.Error("log line carries no duration_ms")
			}
		})
	}
}

func TestWrapResponseWriterStatus(t *testing.T) {
	w := newWrapResponseWriter(httptest.NewRecorder())
	if w.status != http.StatusOK {
		t.Errorf("default status = %d, want 200", w.status)
	}

	w = newWrapResponseWriter(httptest.NewRecorder())
	w.WriteHeader(http.StatusBadRequest)
	if w.status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.status)
	}
}
