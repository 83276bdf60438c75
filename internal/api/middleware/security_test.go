package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func securityResponse(t *testing.T, tlsEnabled bool) *httptest.ResponseRecorder {
	t.Helper()
	handler := SecurityHeaders(tlsEnabled)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	return rr
}

func TestSecurityHeadersSet(t *testing.T) {
	rr := securityResponse(t, false)

	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"X-XSS-Protection":       "0",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, v := range want {
		if got := rr.Header().Get(header); got != v {
			t.Errorf("%s = %q, want %q", header, got, v)
		}
	}

	csp := rr.Header().Get("Content-Security-Policy")
	for _, directive := range []string{
		"default-src 'self'",
		"frame-ancestors 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	} {
		if !strings.Contains(csp, directive) {
			t.Errorf("CSP misses %q: %s", directive, csp)
		}
	}

	pp := rr.Header().Get("Permissions-Policy")
	for _, feature := range []string{"camera=()", "microphone=()", "geolocation=()"} {
		if !strings.Contains(pp, feature) {
			t.Errorf("Permissions-Policy misses %q: %s", feature, pp)
		}
	}
}

func TestSecurityHeadersHSTSOnlyWithTLS(t *testing.T) {
	if got := securityResponse(t, false).Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS without TLS = %q, want unset", got)
	}
	got := securityResponse(t, true).Header().Get("Strict-Transport-Security")
	if got != "max-age=63072000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}

func TestSecurityHeadersCallNext(t *testing.T) {
	called := false
	handler := SecurityHeaders(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/calls", nil))

	if !called {
		t.Fatal("next handler not reached")
	}
	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rr.Code)
	}
}
