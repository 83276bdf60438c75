package config

import (
	"testing"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := load(nil, env(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "prod" {
		t.Errorf("mode = %q, want prod", cfg.Mode)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("http port = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.ServerConfigured() {
		t.Error("empty config must not report server configured")
	}
	if cfg.CredentialsSet() {
		t.Error("empty config must not report credentials set")
	}
}

func TestFlagBeatsEnv(t *testing.T) {
	cfg, err := load(
		[]string{"-pbx-address", "flag.example.com"},
		env(map[string]string{
			"SOFTDIAL_PBX_ADDRESS": "env.example.com",
			"SOFTDIAL_SERVER_URL":  "wss://env.example.com:7443",
		}),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PBXAddress != "flag.example.com" {
		t.Errorf("pbx address = %q, want flag value", cfg.PBXAddress)
	}
	if cfg.ServerURL != "wss://env.example.com:7443" {
		t.Errorf("server url = %q, want env value", cfg.ServerURL)
	}
	if !cfg.ServerConfigured() {
		t.Error("expected server configured")
	}
}

func TestEnvBoolParsing(t *testing.T) {
	cfg, err := load(nil, env(map[string]string{
		"SOFTDIAL_AUTO_REJECT":   "true",
		"SOFTDIAL_RELAY_ENABLED": "1",
		"SOFTDIAL_RELAY_NUMBER":  "5559999",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.AutoReject {
		t.Error("auto-reject not applied from env")
	}
	if !cfg.WillCallFromAnotherDevice() {
		t.Error("relay settings not applied from env")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "bad mode", args: []string{"-mode", "staging"}},
		{name: "bad port", args: []string{"-http-port", "99999"}},
		{name: "bad call method", args: []string{"-call-method", "sms"}},
		{name: "bad log level", args: []string{"-log-level", "verbose"}},
		{name: "bad jwt secret", args: []string{"-jwt-secret", "not-hex"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(tt.args, env(nil)); err == nil {
				t.Errorf("load(%v) succeeded, want error", tt.args)
			}
		})
	}
}
