package agent

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// maxReconnectAttempts bounds a reconnection run; after the last failed
// attempt the agent gives up until restarted.
const maxReconnectAttempts = 5

// errorReporter is the slice of the notifier the reconnector needs.
type errorReporter interface {
	TriggerError(message string, nonBlocking bool)
	ResolveError()
}

// Reconnector re-establishes a lost SIP transport with exponential
// backoff. At most one run is in flight at a time; a disconnect reported
// while a run is active is absorbed by it.
type Reconnector struct {
	engine   Engine
	notifier errorReporter
	logger   *slog.Logger

	// backoff computes the delay after the given failed attempt
	// (1-based). Overridable in tests.
	backoff func(attempt int) time.Duration

	mu       sync.Mutex
	inFlight bool

	total atomic.Int64
}

// NewReconnector creates a reconnection manager for the given engine.
func NewReconnector(engine Engine, notifier errorReporter, logger *slog.Logger) *Reconnector {
	return &Reconnector{
		engine:   engine,
		notifier: notifier,
		logger:   logger.With("subsystem", "reconnect"),
		backoff:  defaultBackoff,
	}
}

// defaultBackoff starts at one second after the first failure and
// doubles per attempt, with up to half a second of jitter so that a
// fleet of agents does not reconnect in lockstep.
func defaultBackoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt-1)) * time.Second
	jitter := time.Duration(rand.Intn(500)) * time.Millisecond
	return base + jitter
}

// Start launches a reconnection run unless one is already in flight.
func (r *Reconnector) Start(ctx context.Context) {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	r.mu.Unlock()
	go r.run(ctx)
}

// InFlight reports whether a reconnection run is active.
func (r *Reconnector) InFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// Total returns the number of reconnection attempts made since start.
func (r *Reconnector) Total() int64 {
	return r.total.Load()
}

func (r *Reconnector) run(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.inFlight = false
		r.mu.Unlock()
	}()

	// The first attempt goes out immediately; only failures wait.
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		r.total.Add(1)
		r.logger.Info("reconnecting", "attempt", attempt)
		if r.attempt(ctx, attempt) {
			r.logger.Info("transport restored", "attempt", attempt)
			r.notifier.ResolveError()
			return
		}
		if attempt == maxReconnectAttempts {
			break
		}
		select {
		case <-time.After(r.backoff(attempt)):
		case <-ctx.Done():
			return
		}
	}

	r.logger.Error("giving up after repeated reconnect failures", "attempts", maxReconnectAttempts)
	r.notifier.TriggerError(msgReconnectGaveUp, false)
}

// attempt makes one reconnect-and-register pass.
func (r *Reconnector) attempt(ctx context.Context, attempt int) bool {
	if err := r.engine.Reconnect(ctx); err != nil {
		r.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		return false
	}
	if err := r.engine.Register(ctx); err != nil {
		r.logger.Warn("re-registration failed", "attempt", attempt, "error", err)
		return false
	}
	return true
}
