package domain

import "time"

type PayoutStatus string

const (
	PayoutStatusPending      PayoutStatus = "PENDING"
	PayoutStatusLocked       PayoutStatus = "LOCKED"
	PayoutStatusProcessing   PayoutStatus = "PROCESSING"
	PayoutStatusCleared      PayoutStatus = "CLEARED"
	PayoutStatusFailed       PayoutStatus = "FAILED"
	PayoutStatusManualReview PayoutStatus = "MANUAL_REVIEW"
)

// PayoutTransaction correlates one remote authorization with its local
// execution outcome. It is not financial truth: the ledger and the remote
// event log are, so this record lives only in worker memory and is rebuilt
// from the remote log after a restart.
type PayoutTransaction struct {
	ID                 string
	ClaimID            string
	PolicyID           string
	PoolID             string
	RecipientAddress   string
	AmountMicros       int64
	Currency           string
	Rail               string
	Status             PayoutStatus
	IdempotencyKey     string
	TransactionRef     string
	FailureCode        string
	FailureReason      string
	AuthorizingEventID string
	LedgerEntryID      string
	ObservedAt         time.Time
	CompletedAt        *time.Time
}
