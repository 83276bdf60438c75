package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
)

// Config holds all runtime configuration for the softdial agent.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	Mode            string // "prod" or "demo" (demo simulates the far end)
	PBXAddress      string // SIP domain of the PBX, e.g. "pbx.example.com"
	ServerURL       string // signaling server URL, e.g. "wss://pbx.example.com:7443"
	Username        string // SIP auth username
	Secret          string // SIP auth secret
	AutoReject      bool   // decline every incoming call with 488
	RelayNumber     string // secondary device number calls are forwarded to
	RelayEnabled    bool   // invite the relay device instead of answering locally
	CallMethod      string // preferred method on mobile: "voip" or "tel"
	BackendURL      string // call-control backend base URL
	BackendToken    string // API token for the call-control backend
	HTTPPort        int    // control API listen port
	DataDir         string // directory for the call log database and audio files
	APIPasswordHash string // argon2id hash guarding the control API login
	JWTSecret       string // hex-encoded 32-byte secret for control API tokens
	LogLevel        string // debug, info, warn, error
	LogFormat       string // "text" or "json"
}

// defaults
const (
	defaultMode      = "prod"
	defaultHTTPPort  = 8090
	defaultDataDir   = "./data"
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
	defaultMethod    = "voip"
)

// envPrefix is the prefix for all softdial environment variables.
const envPrefix = "SOFTDIAL_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:], os.LookupEnv)
}

// load is the testable core of Load.
func load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("softdial", flag.ContinueOnError)

	fs.StringVar(&cfg.Mode, "mode", defaultMode, "operating mode (prod, demo)")
	fs.StringVar(&cfg.PBXAddress, "pbx-address", "", "SIP domain of the PBX")
	fs.StringVar(&cfg.ServerURL, "server-url", "", "signaling server URL (e.g. wss://pbx.example.com:7443)")
	fs.StringVar(&cfg.Username, "username", "", "SIP auth username")
	fs.StringVar(&cfg.Secret, "secret", "", "SIP auth secret")
	fs.BoolVar(&cfg.AutoReject, "auto-reject", false, "decline every incoming call")
	fs.StringVar(&cfg.RelayNumber, "relay-number", "", "secondary device number for call forwarding")
	fs.BoolVar(&cfg.RelayEnabled, "relay-enabled", false, "invite the relay device instead of answering locally")
	fs.StringVar(&cfg.CallMethod, "call-method", defaultMethod, "preferred call method on mobile (voip, tel)")
	fs.StringVar(&cfg.BackendURL, "backend-url", "", "call-control backend base URL")
	fs.StringVar(&cfg.BackendToken, "backend-token", "", "API token for the call-control backend")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "control API listen port")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call log and audio files")
	fs.StringVar(&cfg.APIPasswordHash, "api-password-hash", "", "argon2id hash guarding the control API login")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for control API tokens")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg, lookupEnv)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config, lookupEnv func(string) (string, bool)) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"mode":              envPrefix + "MODE",
		"pbx-address":       envPrefix + "PBX_ADDRESS",
		"server-url":        envPrefix + "SERVER_URL",
		"username":          envPrefix + "USERNAME",
		"secret":            envPrefix + "SECRET",
		"auto-reject":       envPrefix + "AUTO_REJECT",
		"relay-number":      envPrefix + "RELAY_NUMBER",
		"relay-enabled":     envPrefix + "RELAY_ENABLED",
		"call-method":       envPrefix + "CALL_METHOD",
		"backend-url":       envPrefix + "BACKEND_URL",
		"backend-token":     envPrefix + "BACKEND_TOKEN",
		"http-port":         envPrefix + "HTTP_PORT",
		"data-dir":          envPrefix + "DATA_DIR",
		"api-password-hash": envPrefix + "API_PASSWORD_HASH",
		"jwt-secret":        envPrefix + "JWT_SECRET",
		"log-level":         envPrefix + "LOG_LEVEL",
		"log-format":        envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := lookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "mode":
			cfg.Mode = val
		case "pbx-address":
			cfg.PBXAddress = val
		case "server-url":
			cfg.ServerURL = val
		case "username":
			cfg.Username = val
		case "secret":
			cfg.Secret = val
		case "auto-reject":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.AutoReject = v
			}
		case "relay-number":
			cfg.RelayNumber = val
		case "relay-enabled":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.RelayEnabled = v
			}
		case "call-method":
			cfg.CallMethod = val
		case "backend-url":
			cfg.BackendURL = val
		case "backend-token":
			cfg.BackendToken = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "data-dir":
			cfg.DataDir = val
		case "api-password-hash":
			cfg.APIPasswordHash = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.Mode != "prod" && c.Mode != "demo" {
		return fmt.Errorf("mode must be prod or demo, got %q", c.Mode)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.CallMethod != "voip" && c.CallMethod != "tel" {
		return fmt.Errorf("call-method must be voip or tel, got %q", c.CallMethod)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log-format must be text or json, got %q", c.LogFormat)
	}
	if c.JWTSecret != "" {
		if _, err := hex.DecodeString(c.JWTSecret); err != nil {
			return fmt.Errorf("jwt-secret must be hex-encoded: %w", err)
		}
	}
	return nil
}

// ServerConfigured reports whether both the PBX domain and the signaling
// server URL are set. Without them the user agent cannot start.
func (c *Config) ServerConfigured() bool {
	return c.PBXAddress != "" && c.ServerURL != ""
}

// CredentialsSet reports whether SIP credentials are present.
func (c *Config) CredentialsSet() bool {
	return c.Username != "" && c.Secret != ""
}

// WillCallFromAnotherDevice reports whether outgoing calls should invite
// the configured relay device instead of the local audio path.
func (c *Config) WillCallFromAnotherDevice() bool {
	return c.RelayEnabled && c.RelayNumber != ""
}

// JWTSecretBytes decodes the control API token secret. Returns nil when
// unset, in which case the composition root generates an ephemeral one.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		return nil, nil
	}
	return hex.DecodeString(c.JWTSecret)
}

// LogHandler returns a slog handler matching the configured format and level.
func (c *Config) LogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
