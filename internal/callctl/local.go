package callctl

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/softdial/softdial/internal/call"
)

// Local implements Actions without a backend. Records are minted
// locally and lifecycle verbs are only logged. Standalone deployments
// use it when no backend URL is configured; demo mode uses it always.
type Local struct {
	logger *slog.Logger
	seq    atomic.Int64
}

// NewLocal creates a backend-less Actions implementation.
func NewLocal(logger *slog.Logger) *Local {
	return &Local{logger: logger.With("subsystem", "callctl")}
}

func (l *Local) Create(ctx context.Context, p CreateParams) (*call.Call, error) {
	id := fmt.Sprintf("LOCAL-%05d", l.seq.Add(1))
	l.logger.Debug("call record created locally", "call_id", id, "number", p.PhoneNumber)
	return &call.Call{
		ID:          id,
		Direction:   p.Direction,
		State:       p.State,
		PhoneNumber: p.PhoneNumber,
		CreatedAt:   time.Now(),
	}, nil
}

func (l *Local) Start(ctx context.Context, callID string) error {
	l.logger.Debug("call started", "call_id", callID)
	return nil
}

func (l *Local) End(ctx context.Context, callID, activityName string) error {
	l.logger.Debug("call ended", "call_id", callID, "activity", activityName)
	return nil
}

func (l *Local) Abort(ctx context.Context, callID string) error {
	l.logger.Debug("call aborted", "call_id", callID)
	return nil
}

func (l *Local) Reject(ctx context.Context, callID string) error {
	l.logger.Debug("call rejected", "call_id", callID)
	return nil
}

func (l *Local) Miss(ctx context.Context, callID string) error {
	l.logger.Debug("call missed", "call_id", callID)
	return nil
}

// GetContactInfo has nothing to resolve against; the caller keeps the
// bare phone number.
func (l *Local) GetContactInfo(ctx context.Context, callID string) (*call.Contact, error) {
	return nil, nil
}
