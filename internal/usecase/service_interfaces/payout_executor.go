package service_interfaces

import "context"

type PayoutResult struct {
	Success        bool
	TransactionRef string
	FailureCode    string
	FailureReason  string
}

// PayoutExecutor is the boundary to the process that actually moves money.
// It is opaque, possibly slow and possibly failing; the settlement worker
// guarantees it is never invoked again for a claim once a terminal
// consequence exists.
type PayoutExecutor interface {
	Execute(ctx context.Context, claimID string, amountMicros int64, currency, authorizingEventID string) (PayoutResult, error)
}
