// Package notify holds the single user-facing error slot consumed by the
// display layer. Exactly one blocking error may be shown at a time;
// non-blocking errors are informational and never displace a blocking one.
package notify

import (
	"log/slog"
	"sync"
)

// ErrorState is a snapshot of the current error surface.
type ErrorState struct {
	Message  string `json:"message,omitempty"`
	Blocking bool   `json:"blocking,omitempty"`
}

// Notifier owns the current error text. Callers set it with TriggerError
// and clear it with ResolveError; the display layer reads it via Current
// or subscribes with OnChange.
type Notifier struct {
	logger *slog.Logger

	mu       sync.Mutex
	state    ErrorState
	onChange func(ErrorState)
}

// New creates a notifier.
func New(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger.With("subsystem", "notify")}
}

// OnChange registers a callback invoked (outside the notifier lock is not
// guaranteed; keep callbacks cheap) whenever the error state changes.
func (n *Notifier) OnChange(fn func(ErrorState)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onChange = fn
}

// TriggerError surfaces an error to the user. Blocking errors replace
// whatever is shown; non-blocking errors are dropped while a blocking
// error is active so the user never loses the text that explains why the
// phone is unusable.
func (n *Notifier) TriggerError(msg string, nonBlocking bool) {
	n.mu.Lock()
	if nonBlocking && n.state.Blocking && n.state.Message != "" {
		n.mu.Unlock()
		n.logger.Warn("suppressed non-blocking error behind blocking error", "message", msg)
		return
	}
	n.state = ErrorState{Message: msg, Blocking: !nonBlocking}
	fn := n.onChange
	st := n.state
	n.mu.Unlock()

	if nonBlocking {
		n.logger.Warn("user-facing error", "message", msg)
	} else {
		n.logger.Error("blocking user-facing error", "message", msg)
	}
	if fn != nil {
		fn(st)
	}
}

// ResolveError clears the current error.
func (n *Notifier) ResolveError() {
	n.mu.Lock()
	if n.state.Message == "" {
		n.mu.Unlock()
		return
	}
	n.state = ErrorState{}
	fn := n.onChange
	n.mu.Unlock()

	if fn != nil {
		fn(ErrorState{})
	}
}

// Current returns the error state shown to the user.
func (n *Notifier) Current() ErrorState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}
