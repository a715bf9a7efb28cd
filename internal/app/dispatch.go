package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"teamulate/api/internal/activity"
	"teamulate/api/internal/logging"
	"teamulate/api/internal/realtime"
)

// Broadcaster delivers committed activity and chat to live project rooms.
// *realtime.Registry implements it.
type Broadcaster interface {
	Publish(ctx context.Context, projectID string, event activity.Event) error
	EvictUser(ctx context.Context, projectID, userID string) error
	CloseRoom(ctx context.Context, projectID string) error
	RevalidateUser(ctx context.Context, userID string) error
	PublishChat(ctx context.Context, projectID string, msg realtime.ChatMessage) error
}

type outboundKind int

const (
	outboundEvent outboundKind = iota
	outboundEvict
	outboundClose
	outboundRevalidate
	outboundChat
)

type outbound struct {
	kind      outboundKind
	projectID string
	userID    string
	event     activity.Event
	chat      realtime.ChatMessage
}

const (
	defaultDispatchQueue = 1024
	broadcastTimeout     = 5 * time.Second
)

var errDispatchQueueFull = errors.New("broadcast queue full")

// dispatcher hands room traffic to the Broadcaster on one goroutine, so the
// request path never waits for delivery and rooms see activity in commit
// order.
type dispatcher struct {
	target   Broadcaster
	reporter *logging.Reporter
	queue    chan outbound
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

func newDispatcher(target Broadcaster, reporter *logging.Reporter, size int) *dispatcher {
	if size <= 0 {
		size = defaultDispatchQueue
	}
	d := &dispatcher{
		target:   target,
		reporter: reporter,
		queue:    make(chan outbound, size),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(msg outbound) {
	if d == nil || d.target == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.reporter.Report(context.Background(), "broadcast", errDispatchQueueFull, "project_id", msg.projectID)
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *dispatcher) deliver(msg outbound) {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()
	var err error
	switch msg.kind {
	case outboundEvent:
		err = d.target.Publish(ctx, msg.projectID, msg.event)
	case outboundEvict:
		err = d.target.EvictUser(ctx, msg.projectID, msg.userID)
	case outboundClose:
		err = d.target.CloseRoom(ctx, msg.projectID)
	case outboundRevalidate:
		err = d.target.RevalidateUser(ctx, msg.userID)
	case outboundChat:
		err = d.target.PublishChat(ctx, msg.projectID, msg.chat)
	}
	if err != nil {
		d.reporter.Report(ctx, "broadcast", err, "project_id", msg.projectID, "user_id", msg.userID)
	}
}

// close stops accepting work and waits for queued messages to go out.
func (d *dispatcher) close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
