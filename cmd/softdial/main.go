package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/softdial/softdial/internal/agent"
	"github.com/softdial/softdial/internal/api"
	"github.com/softdial/softdial/internal/autodial"
	"github.com/softdial/softdial/internal/call"
	"github.com/softdial/softdial/internal/callctl"
	"github.com/softdial/softdial/internal/config"
	"github.com/softdial/softdial/internal/database"
	"github.com/softdial/softdial/internal/media"
	"github.com/softdial/softdial/internal/metrics"
	"github.com/softdial/softdial/internal/notify"
	"github.com/softdial/softdial/internal/ringtone"
	"github.com/softdial/softdial/internal/sipgw"
)

func main() {
	start := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.LogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting softdial",
		"mode", cfg.Mode,
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Headless deployments use silent capture and no speaker. Desktop
	// builds would swap these for real device bindings.
	devices := &media.LoopbackDevices{}
	tones := ringtone.NewPlayer(ringtone.NullSink{}, nil, logger)

	// The SIP engine only exists in prod mode; demo mode simulates the
	// remote leg inside the orchestrator.
	var engine agent.Engine
	if cfg.Mode == "prod" {
		gw, err := sipgw.New(cfg, devices, logger)
		if err != nil {
			slog.Error("failed to create sip gateway", "error", err)
			os.Exit(1)
		}
		engine = gw
	}

	actions := backendActions(cfg, logger)
	notifier := notify.New(logger)
	store := call.NewStore()
	queue := autodial.New()
	callLog := database.NewCallLogRepository(db)

	ag := agent.New(agent.Deps{
		Config:   cfg,
		Engine:   engine,
		Actions:  actions,
		Store:    store,
		Tones:    tones,
		Notifier: notifier,
		Devices:  devices,
		Output:   media.NullOutput{},
		Queue:    queue,
		Recorder: callLog,
		Logger:   logger,
	})
	if err := ag.Start(appCtx); err != nil {
		// The agent stays up with the blocking error surfaced through
		// the notifier; the API keeps serving so the operator can see
		// what is wrong.
		slog.Error("agent start incomplete", "error", err)
	}
	defer ag.Stop()

	secret, err := jwtSecret(cfg)
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(ag, store, ag.Reconnector(), callLog, queue, start))

	handler := api.NewServer(ag, callLog, queue, notifier, cfg, secret, registry, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("softdial stopped")
}

// backendActions selects the call lifecycle backend: the HTTP
// call-control client when a backend URL is configured, otherwise a
// local stand-in that mints activity IDs without persisting anything
// remote.
func backendActions(cfg *config.Config, logger *slog.Logger) callctl.Actions {
	if cfg.BackendURL != "" {
		return callctl.NewClient(cfg.BackendURL, cfg.BackendToken, logger)
	}
	slog.Info("no backend configured, call activities are local only")
	return callctl.NewLocal(logger)
}

// jwtSecret decodes the configured control API signing secret, or
// generates an ephemeral one. Ephemeral secrets invalidate all issued
// tokens on restart, which is fine for single-operator deployments.
func jwtSecret(cfg *config.Config) ([]byte, error) {
	secret, err := cfg.JWTSecretBytes()
	if err != nil {
		return nil, err
	}
	if secret != nil {
		return secret, nil
	}
	secret = make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	slog.Warn("no jwt secret configured, generated an ephemeral one")
	return secret, nil
}
