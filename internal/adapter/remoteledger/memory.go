package remoteledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLog is an in-process remote ledger used by tests: an append-only,
// totally ordered event log with idempotency-key deduplication.
type MemoryLog struct {
	mu     sync.Mutex
	events []Event
	byKey  map[string]Event
	seq    int64
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byKey: make(map[string]Event),
	}
}

func (l *MemoryLog) ListEvents(_ context.Context, eventType string, afterSequence int64) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, 0)
	for _, ev := range l.events {
		if ev.Sequence > afterSequence && ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *MemoryLog) ListBySubject(_ context.Context, subject string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, 0)
	for _, ev := range l.events {
		if ev.Subject == subject {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *MemoryLog) Append(_ context.Context, ev Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.IdempotencyKey != "" {
		if stored, exists := l.byKey[ev.IdempotencyKey]; exists {
			return stored, nil
		}
	}

	l.seq++
	ev.Sequence = l.seq
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	l.events = append(l.events, ev)
	if ev.IdempotencyKey != "" {
		l.byKey[ev.IdempotencyKey] = ev
	}
	return ev, nil
}

// CountByType reports how many events of one type the log holds, for test
// assertions on exactly-once consequence writes.
func (l *MemoryLog) CountByType(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, ev := range l.events {
		if ev.EventType == eventType {
			count++
		}
	}
	return count
}
