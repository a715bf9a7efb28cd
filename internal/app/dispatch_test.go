package app

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"teamulate/api/internal/activity"
	"teamulate/api/internal/logging"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDispatcherKeepsOrder(t *testing.T) {
	rooms := &recordingRooms{}
	d := newDispatcher(rooms, nil, 8)

	d.enqueue(outbound{kind: outboundEvent, projectID: "p1", event: activity.Event{ID: 1}})
	d.enqueue(outbound{kind: outboundEvict, projectID: "p1", userID: "u2"})
	d.enqueue(outbound{kind: outboundEvent, projectID: "p1", event: activity.Event{ID: 2}})
	d.enqueue(outbound{kind: outboundClose, projectID: "p1"})
	d.close()

	calls := rooms.snapshot()
	want := []string{"publish", "evict", "publish", "close"}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %+v", len(want), calls)
	}
	for i, call := range calls {
		if call.kind != want[i] {
			t.Fatalf("call %d: expected %s, got %s", i, want[i], call.kind)
		}
	}
	if calls[0].event.ID != 1 || calls[2].event.ID != 2 || calls[1].userID != "u2" {
		t.Fatalf("unexpected calls: %+v", calls)
	}

	d.enqueue(outbound{kind: outboundEvent, projectID: "p1", event: activity.Event{ID: 3}})
	d.close()
	if len(rooms.snapshot()) != len(want) {
		t.Fatal("closed dispatcher accepted more work")
	}
}

func TestDispatcherReportsFullQueue(t *testing.T) {
	var logs syncBuffer
	reporter, _ := logging.NewReporter(slog.New(slog.NewTextHandler(&logs, nil)), "", "test")
	rooms := &recordingRooms{}
	rooms.hold()
	d := newDispatcher(rooms, reporter, 1)

	for i := 1; i <= 5; i++ {
		d.enqueue(outbound{kind: outboundEvent, projectID: "p1", event: activity.Event{ID: int64(i)}})
	}
	rooms.release()
	d.close()

	if !strings.Contains(logs.String(), errDispatchQueueFull.Error()) {
		t.Fatalf("expected a queue-full report, got logs: %s", logs.String())
	}
	if delivered := len(rooms.snapshot()); delivered == 0 || delivered > 2 {
		t.Fatalf("expected one or two deliveries, got %d", delivered)
	}
}

func TestDispatcherWithoutTarget(t *testing.T) {
	d := newDispatcher(nil, nil, 1)
	d.enqueue(outbound{kind: outboundClose, projectID: "p1"})
	d.close()
}
