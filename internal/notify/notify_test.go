package notify

import (
	"io"
	"log/slog"
	"testing"
)

func newTestNotifier() *Notifier {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBlockingErrorSticks(t *testing.T) {
	n := newTestNotifier()

	n.TriggerError("connection lost", false)
	n.TriggerError("microphone busy", true)

	got := n.Current()
	if got.Message != "connection lost" || !got.Blocking {
		t.Errorf("non-blocking error displaced blocking one: %+v", got)
	}
}

func TestNonBlockingThenBlocking(t *testing.T) {
	n := newTestNotifier()

	n.TriggerError("callee busy", true)
	if got := n.Current(); got.Blocking {
		t.Errorf("expected non-blocking state, got %+v", got)
	}

	n.TriggerError("connection lost", false)
	if got := n.Current(); got.Message != "connection lost" || !got.Blocking {
		t.Errorf("blocking error should replace non-blocking: %+v", got)
	}
}

func TestResolveClears(t *testing.T) {
	n := newTestNotifier()

	var seen []ErrorState
	n.OnChange(func(st ErrorState) { seen = append(seen, st) })

	n.TriggerError("connecting", false)
	n.ResolveError()
	n.ResolveError() // second resolve is a no-op

	if got := n.Current(); got.Message != "" {
		t.Errorf("resolve left %+v", got)
	}
	if len(seen) != 2 {
		t.Errorf("expected 2 change notifications, got %d", len(seen))
	}
}
