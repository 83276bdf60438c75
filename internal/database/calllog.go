package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/softdial/softdial/internal/call"
)

// CallLogEntry is one persisted row of the call log.
type CallLogEntry struct {
	ID           int64      `json:"id"`
	CallID       string     `json:"call_id"`
	Direction    string     `json:"direction"`
	PhoneNumber  string     `json:"phone_number"`
	DisplayName  string     `json:"display_name,omitempty"`
	ActivityID   string     `json:"activity_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DurationSecs int64      `json:"duration_secs"`
	Disposition  string     `json:"disposition"`
}

// CallLogFilter narrows List results. Zero values mean "no constraint";
// Limit of 0 falls back to a sane page size.
type CallLogFilter struct {
	Direction   string
	Disposition string
	Search      string
	Limit       int
	Offset      int
}

// CallLogCounts aggregates the log by disposition.
type CallLogCounts struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Missed    int64 `json:"missed"`
	Rejected  int64 `json:"rejected"`
	Aborted   int64 `json:"aborted"`
}

// CallLogRepository persists finished calls and serves the call history.
type CallLogRepository interface {
	Record(ctx context.Context, c *call.Call) error
	List(ctx context.Context, filter CallLogFilter) ([]CallLogEntry, int, error)
	Counts(ctx context.Context) (CallLogCounts, error)
	CountByDisposition(ctx context.Context) (map[string]int64, error)
}

const defaultListLimit = 50

// callLogRepo implements CallLogRepository.
type callLogRepo struct {
	db *DB
}

// NewCallLogRepository creates a new CallLogRepository.
func NewCallLogRepository(db *DB) CallLogRepository {
	return &callLogRepo{db: db}
}

// Record inserts the terminal snapshot of a call. It satisfies the
// orchestrator's recorder interface, so it must accept any record the
// session hands over, including calls that never connected.
func (r *callLogRepo) Record(ctx context.Context, c *call.Call) error {
	activityID := ""
	if c.Activity != nil {
		activityID = c.Activity.ID
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO call_log (call_id, direction, phone_number, display_name,
		 activity_id, created_at, started_at, ended_at, duration_secs, disposition)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Direction), c.PhoneNumber, c.DisplayName,
		activityID, c.CreatedAt, c.StartedAt, c.EndedAt,
		int64(c.Duration()/time.Second), c.Disposition(),
	)
	if err != nil {
		return fmt.Errorf("inserting call log entry: %w", err)
	}
	return nil
}

// List returns log entries matching the filter, newest first, along with
// the total count of matching rows.
func (r *callLogRepo) List(ctx context.Context, filter CallLogFilter) ([]CallLogEntry, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Direction != "" {
		where += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if filter.Disposition != "" {
		where += " AND disposition = ?"
		args = append(args, filter.Disposition)
	}
	if filter.Search != "" {
		where += " AND (phone_number LIKE ? OR display_name LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM call_log WHERE " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call log entries: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, call_id, direction, phone_number, display_name,
		 activity_id, created_at, started_at, ended_at, duration_secs, disposition
		 FROM call_log WHERE ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call log entries: %w", err)
	}
	defer rows.Close()

	var entries []CallLogEntry
	for rows.Next() {
		var e CallLogEntry
		var started, ended sql.NullTime
		if err := rows.Scan(&e.ID, &e.CallID, &e.Direction, &e.PhoneNumber,
			&e.DisplayName, &e.ActivityID, &e.CreatedAt, &started, &ended,
			&e.DurationSecs, &e.Disposition); err != nil {
			return nil, 0, fmt.Errorf("scanning call log entry: %w", err)
		}
		if started.Valid {
			t := started.Time
			e.StartedAt = &t
		}
		if ended.Valid {
			t := ended.Time
			e.EndedAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call log entries: %w", err)
	}

	return entries, total, nil
}

// CountByDisposition returns call counts grouped by disposition.
func (r *callLogRepo) CountByDisposition(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT disposition, COUNT(*) FROM call_log GROUP BY disposition")
	if err != nil {
		return nil, fmt.Errorf("counting call log by disposition: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var disposition string
		var n int64
		if err := rows.Scan(&disposition, &n); err != nil {
			return nil, fmt.Errorf("scanning disposition count: %w", err)
		}
		counts[disposition] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating disposition counts: %w", err)
	}
	return counts, nil
}

// Counts aggregates the whole log by disposition.
func (r *callLogRepo) Counts(ctx context.Context) (CallLogCounts, error) {
	byDisposition, err := r.CountByDisposition(ctx)
	if err != nil {
		return CallLogCounts{}, err
	}

	var counts CallLogCounts
	for disposition, n := range byDisposition {
		counts.Total += n
		switch disposition {
		case "completed":
			counts.Completed = n
		case "missed":
			counts.Missed = n
		case "rejected":
			counts.Rejected = n
		case "aborted":
			counts.Aborted = n
		}
	}
	return counts, nil
}
