// internal/circulation/journal.go
package circulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"issuedesk/internal/eventstore"
)

const (
	aggregateType     = "issue"
	eventItemIssued   = "ItemIssued"
	eventItemReturned = "ItemReturned"
	replayBatchSize   = 500
)

// EventJournal stores ledger changes in the Postgres event store.
type EventJournal struct {
	store *eventstore.EventStore
}

func NewEventJournal(store *eventstore.EventStore) *EventJournal {
	return &EventJournal{store: store}
}

func (j *EventJournal) Append(ctx context.Context, issueID uuid.UUID, expectedVersion int, event any) error {
	eventType, err := eventTypeOf(event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	err = j.store.Append(ctx, issueID, aggregateType, expectedVersion, []eventstore.Event{{
		AggregateID:   issueID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     data,
		Version:       expectedVersion + 1,
	}})
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return conflictErr("issue %s was modified concurrently", issueID)
	}
	return err
}

func (j *EventJournal) Replay(ctx context.Context, apply func(event any) error) error {
	return j.store.Replay(ctx, aggregateType, replayBatchSize, func(e eventstore.Event) error {
		switch e.EventType {
		case eventItemIssued:
			var ev ItemIssuedEvent
			if err := json.Unmarshal(e.EventData, &ev); err != nil {
				return err
			}
			return apply(ev)
		case eventItemReturned:
			var ev ItemReturnedEvent
			if err := json.Unmarshal(e.EventData, &ev); err != nil {
				return err
			}
			return apply(ev)
		default:
			return fmt.Errorf("unknown event type %q", e.EventType)
		}
	})
}

func eventTypeOf(event any) (string, error) {
	switch event.(type) {
	case ItemIssuedEvent:
		return eventItemIssued, nil
	case ItemReturnedEvent:
		return eventItemReturned, nil
	default:
		return "", fmt.Errorf("unsupported event %T", event)
	}
}

// MemoryJournal keeps events in process. It enforces the same version rule
// as the event store.
type MemoryJournal struct {
	mu       sync.Mutex
	events   []any
	versions map[uuid.UUID]int
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{versions: make(map[uuid.UUID]int)}
}

func (j *MemoryJournal) Append(_ context.Context, issueID uuid.UUID, expectedVersion int, event any) error {
	if _, err := eventTypeOf(event); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.versions[issueID] != expectedVersion {
		return conflictErr("issue %s was modified concurrently", issueID)
	}
	j.versions[issueID] = expectedVersion + 1
	j.events = append(j.events, event)
	return nil
}

func (j *MemoryJournal) Replay(_ context.Context, apply func(event any) error) error {
	j.mu.Lock()
	events := append([]any(nil), j.events...)
	j.mu.Unlock()
	for _, e := range events {
		if err := apply(e); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of journaled events.
func (j *MemoryJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}
