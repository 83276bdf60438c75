package database

import (
	"context"
	"testing"
	"time"

	"github.com/softdial/softdial/internal/call"
)

func newTestRepo(t *testing.T) CallLogRepository {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCallLogRepository(db)
}

func finishedCall(id, number string, dir call.Direction, state call.State, answered bool) *call.Call {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	c := &call.Call{
		ID:          id,
		Direction:   dir,
		State:       state,
		PhoneNumber: number,
		CreatedAt:   created,
	}
	if answered {
		started := created.Add(5 * time.Second)
		ended := started.Add(90 * time.Second)
		c.StartedAt = &started
		c.EndedAt = &ended
	}
	return c
}

func TestRecordAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := finishedCall("CALL-00001", "5551234", call.DirectionOutgoing, call.StateTerminated, true)
	c.DisplayName = "Ada Lovelace"
	c.Activity = &call.Activity{ID: "AV-001", Kind: "phonecall"}
	if err := repo.Record(ctx, c); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	entries, total, err := repo.List(ctx, CallLogFilter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("List() = %d entries, total %d, want 1/1", len(entries), total)
	}

	e := entries[0]
	if e.CallID != "CALL-00001" {
		t.Errorf("CallID = %q, want CALL-00001", e.CallID)
	}
	if e.Direction != "outgoing" {
		t.Errorf("Direction = %q, want outgoing", e.Direction)
	}
	if e.DisplayName != "Ada Lovelace" {
		t.Errorf("DisplayName = %q, want Ada Lovelace", e.DisplayName)
	}
	if e.ActivityID != "AV-001" {
		t.Errorf("ActivityID = %q, want AV-001", e.ActivityID)
	}
	if e.DurationSecs != 90 {
		t.Errorf("DurationSecs = %d, want 90", e.DurationSecs)
	}
	if e.Disposition != "completed" {
		t.Errorf("Disposition = %q, want completed", e.Disposition)
	}
	if e.StartedAt == nil || e.EndedAt == nil {
		t.Errorf("answered call lost its timestamps: started=%v ended=%v", e.StartedAt, e.EndedAt)
	}
}

func TestRecordUnansweredCall(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := finishedCall("CALL-00002", "5559999", call.DirectionIncoming, call.StateMissed, false)
	if err := repo.Record(ctx, c); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	entries, _, err := repo.List(ctx, CallLogFilter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Disposition != "missed" {
		t.Errorf("Disposition = %q, want missed", e.Disposition)
	}
	if e.StartedAt != nil || e.EndedAt != nil {
		t.Errorf("unanswered call gained timestamps: started=%v ended=%v", e.StartedAt, e.EndedAt)
	}
	if e.DurationSecs != 0 {
		t.Errorf("DurationSecs = %d, want 0", e.DurationSecs)
	}
}

func TestListFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed := []*call.Call{
		finishedCall("CALL-00010", "5551000", call.DirectionOutgoing, call.StateTerminated, true),
		finishedCall("CALL-00011", "5552000", call.DirectionIncoming, call.StateMissed, false),
		finishedCall("CALL-00012", "5553000", call.DirectionIncoming, call.StateRejected, false),
	}
	seed[0].DisplayName = "Grace Hopper"
	for _, c := range seed {
		if err := repo.Record(ctx, c); err != nil {
			t.Fatalf("Record(%s) error: %v", c.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter CallLogFilter
		want   []string
	}{
		{name: "all", filter: CallLogFilter{}, want: []string{"CALL-00012", "CALL-00011", "CALL-00010"}},
		{name: "incoming only", filter: CallLogFilter{Direction: "incoming"}, want: []string{"CALL-00012", "CALL-00011"}},
		{name: "missed only", filter: CallLogFilter{Disposition: "missed"}, want: []string{"CALL-00011"}},
		{name: "search number", filter: CallLogFilter{Search: "5553"}, want: []string{"CALL-00012"}},
		{name: "search name", filter: CallLogFilter{Search: "Hopper"}, want: []string{"CALL-00010"}},
		{name: "paged", filter: CallLogFilter{Limit: 1, Offset: 1}, want: []string{"CALL-00011"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, _, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error: %v", err)
			}
			if len(entries) != len(tt.want) {
				t.Fatalf("List() returned %d entries, want %d", len(entries), len(tt.want))
			}
			for i, want := range tt.want {
				if entries[i].CallID != want {
					t.Errorf("entries[%d].CallID = %q, want %q", i, entries[i].CallID, want)
				}
			}
		})
	}
}

func TestCounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed := []*call.Call{
		finishedCall("CALL-00020", "5551000", call.DirectionOutgoing, call.StateTerminated, true),
		finishedCall("CALL-00021", "5551001", call.DirectionOutgoing, call.StateTerminated, true),
		finishedCall("CALL-00022", "5551002", call.DirectionOutgoing, call.StateTerminated, false),
		finishedCall("CALL-00023", "5552000", call.DirectionIncoming, call.StateMissed, false),
		finishedCall("CALL-00024", "5553000", call.DirectionIncoming, call.StateRejected, false),
	}
	for _, c := range seed {
		if err := repo.Record(ctx, c); err != nil {
			t.Fatalf("Record(%s) error: %v", c.ID, err)
		}
	}

	counts, err := repo.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error: %v", err)
	}
	want := CallLogCounts{Total: 5, Completed: 2, Missed: 1, Rejected: 1, Aborted: 1}
	if counts != want {
		t.Errorf("Counts() = %+v, want %+v", counts, want)
	}
}
