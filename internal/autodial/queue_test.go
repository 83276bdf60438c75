package autodial

import (
	"testing"

	"github.com/softdial/softdial/internal/call"
)

func TestQueueOrderAndDrain(t *testing.T) {
	q := New()
	if q.Active() {
		t.Error("new queue must be inactive")
	}

	q.Enqueue(
		&call.Activity{ID: "a1", PhoneNumber: "100"},
		&call.Activity{ID: "a2", PhoneNumber: "200"},
	)
	if !q.Active() {
		t.Error("queue with items must be active")
	}

	if got := q.Next(); got == nil || got.ID != "a1" {
		t.Fatalf("first = %+v, want a1", got)
	}
	if got := q.Next(); got == nil || got.ID != "a2" {
		t.Fatalf("second = %+v, want a2", got)
	}
	if got := q.Next(); got != nil {
		t.Fatalf("drained queue returned %+v", got)
	}
	if q.Active() {
		t.Error("drained queue must be inactive")
	}
}

func TestQueueStop(t *testing.T) {
	q := New()
	q.Enqueue(&call.Activity{ID: "a1"})
	q.Stop()

	if q.Active() || q.Len() != 0 {
		t.Errorf("stopped queue: active=%v len=%d", q.Active(), q.Len())
	}
}
