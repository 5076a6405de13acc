package domain

import "time"

type ReferenceType string

const (
	ReferencePaymentCapture ReferenceType = "PAYMENT_CAPTURE"
	ReferenceClaim          ReferenceType = "CLAIM"
	ReferenceRemittance     ReferenceType = "REMITTANCE"
	ReferenceAdjustment     ReferenceType = "ADJUSTMENT"
)

// IsIdempotentReference reports whether a (reference_id, reference_type)
// pair may be committed at most once. Adjustments are the only class that
// allows repeated references.
func IsIdempotentReference(referenceType ReferenceType) bool {
	switch referenceType {
	case ReferencePaymentCapture, ReferenceClaim, ReferenceRemittance:
		return true
	default:
		return false
	}
}

// LedgerEntry is an immutable atomic record. Entries are never updated or
// deleted after insertion.
type LedgerEntry struct {
	ID            string
	TransactionID string
	Account       Account
	AmountMicros  int64
	Currency      string
	ReferenceID   string
	ReferenceType ReferenceType
	Memo          *string
	CreatedAt     time.Time
}

// LedgerTransaction groups two or more entries whose signed amounts sum to
// exactly zero. Created atomically with all its entries, never mutated.
type LedgerTransaction struct {
	ID            string
	Description   string
	Currency      string
	ReferenceID   string
	ReferenceType ReferenceType
	CreatedBy     string
	CreatedAt     time.Time
}

// AccountBalance is derived, never stored: the signed sum of all entries for
// an (account, currency) pair.
type AccountBalance struct {
	Account       Account
	Currency      string
	BalanceMicros int64
	EntryCount    int64
	LastEntryID   string
	LastEntryAt   time.Time
}

type EntryInput struct {
	Account      Account
	AmountMicros int64
	Memo         string
}

type TransactionInput struct {
	Entries       []EntryInput
	Currency      string
	ReferenceID   string
	ReferenceType ReferenceType
	Description   string
	CreatedBy     string
}
