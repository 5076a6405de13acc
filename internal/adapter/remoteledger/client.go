package remoteledger

import "context"

// Client is the settlement core's view of the external ledger service. The
// remote log is the system of record for payout authorization; this client
// is constructed once at startup and injected wherever it is needed.
type Client interface {
	// ListEvents returns events of one type strictly after the given
	// sequence, in the remote log's native order.
	ListEvents(ctx context.Context, eventType string, afterSequence int64) ([]Event, error)
	// ListBySubject returns every event recorded for a subject, used as
	// the idempotency gate before executing a payout.
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	// Append writes an event. Appends are idempotent on IdempotencyKey:
	// re-sending the same key returns the previously recorded event.
	Append(ctx context.Context, ev Event) (Event, error)
}
