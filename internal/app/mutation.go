package app

import (
	"context"
	"time"

	"teamulate/api/internal/activity"
	"teamulate/api/internal/auth"
	"teamulate/api/internal/store"
)

const sideEffectTimeout = 10 * time.Second

// change is the activity a committed mutation asks to record. The event is
// the only link between the transaction and the broadcast.
type change struct {
	projectID string
	typ       activity.Type
	payload   map[string]any
	// tombstone reserves an id without a ledger row, for projects whose
	// rows the transaction removed.
	tombstone bool
	evictUser string
	closeRoom bool
}

// mutate runs fn in one transaction. Once it commits, the returned change is
// appended to the ledger and queued for broadcast. Failures after commit are
// reported, never returned: the mutation has happened. A nil change records
// nothing.
func (s *Service) mutate(ctx context.Context, actor auth.Actor, fn func(tx store.Tx) (*change, error)) (*activity.Event, error) {
	var pending *change
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		pending, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, nil
	}
	return s.record(ctx, actor, *pending), nil
}

func (s *Service) record(ctx context.Context, actor auth.Actor, ch change) *activity.Event {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	// The revoked user leaves the room before anything committed later,
	// including this change's own event, can be queued.
	if ch.evictUser != "" {
		s.dispatch.enqueue(outbound{kind: outboundEvict, projectID: ch.projectID, userID: ch.evictUser})
	}

	write := s.ledger.Append
	if ch.tombstone {
		write = s.ledger.Tombstone
	}
	event, err := write(ctx, ch.projectID, ch.typ, ch.payload, actor)
	if err != nil {
		s.reporter.Report(ctx, "activity append", err, "project_id", ch.projectID, "type", string(ch.typ))
	} else {
		s.dispatch.enqueue(outbound{kind: outboundEvent, projectID: ch.projectID, event: event})
	}
	if ch.closeRoom {
		s.dispatch.enqueue(outbound{kind: outboundClose, projectID: ch.projectID})
	}
	if err != nil {
		return nil
	}
	return &event
}

// afterCommit runs cleanup that must survive request cancellation, such as
// removing orphaned blobs.
func (s *Service) afterCommit(ctx context.Context, stage string, fn func(context.Context) error, attrs ...any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.reporter.Report(ctx, stage, err, attrs...)
	}
}
