package domain

import "fmt"

// ImbalancedTransactionError rejects a transaction whose signed entry
// amounts do not sum to exactly zero.
type ImbalancedTransactionError struct {
	SumMicros int64
}

func (e *ImbalancedTransactionError) Error() string {
	return fmt.Sprintf("transaction entries must sum to zero, got %d micros", e.SumMicros)
}

type InvalidAccountError struct {
	Account string
	Reason  string
}

func (e *InvalidAccountError) Error() string {
	return fmt.Sprintf("invalid account %q: %s", e.Account, e.Reason)
}

// DuplicateReferenceError marks a submission whose (reference_id,
// reference_type) pair was already committed. Callers treat it as
// "already done", not as a fault.
type DuplicateReferenceError struct {
	ReferenceID   string
	ReferenceType ReferenceType
}

func (e *DuplicateReferenceError) Error() string {
	return fmt.Sprintf("reference %s/%s has already been committed", e.ReferenceType, e.ReferenceID)
}

type DuplicateLockError struct {
	ClaimID string
	LockID  string
}

func (e *DuplicateLockError) Error() string {
	return fmt.Sprintf("an active fund lock already exists for claim %s", e.ClaimID)
}

type InsufficientLiquidityError struct {
	PoolID          string
	RequestedMicros int64
	AvailableMicros int64
	ShortfallMicros int64
}

func (e *InsufficientLiquidityError) Error() string {
	return fmt.Sprintf("pool %s cannot cover %d micros: available %d, shortfall %d",
		e.PoolID, e.RequestedMicros, e.AvailableMicros, e.ShortfallMicros)
}

// MalformedEventError marks a remote event whose payload failed
// schema-validated decoding. The event is logged and skipped, never fatal.
type MalformedEventError struct {
	EventID string
	Reason  string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event %s: %s", e.EventID, e.Reason)
}
