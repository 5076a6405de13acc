package domain

import "time"

type PoolStatus string

const (
	PoolStatusActive    PoolStatus = "ACTIVE"
	PoolStatusSuspended PoolStatus = "SUSPENDED"
	PoolStatusDepleted  PoolStatus = "DEPLETED"
)

// LiquidityPool is a segregated, currency-denominated reserve backing claim
// payouts. Balance is a cache of pool-scoped ledger entry sums and is mutated
// only through the treasury store's guarded adjust operations.
type LiquidityPool struct {
	ID                   string
	Name                 string
	AccountType          string
	Currency             string
	BalanceMicros        int64
	MinimumReserveMicros int64
	Status               PoolStatus
	CreatedAt            time.Time
	LastActivityAt       time.Time
}

type LockStatus string

const (
	LockStatusLocked   LockStatus = "LOCKED"
	LockStatusReleased LockStatus = "RELEASED"
	LockStatusExpired  LockStatus = "EXPIRED"
)

// FundLock reserves pool capacity against one claim pending settlement.
// At most one LOCKED lock may exist per claim id at a time.
type FundLock struct {
	ID           string
	PoolID       string
	ClaimID      string
	AmountMicros int64
	Status       LockStatus
	LockedAt     time.Time
	ExpiresAt    time.Time
}

type AlertType string

const (
	AlertCriticalLow      AlertType = "CRITICAL_LOW"
	AlertWarningLow       AlertType = "WARNING_LOW"
	AlertLiquidityFailure AlertType = "LIQUIDITY_FAILURE"
)

// TreasuryAlert is immutable apart from the acknowledgement flag, which
// transitions false to true exactly once.
type TreasuryAlert struct {
	ID                   string
	PoolID               string
	Type                 AlertType
	BalanceMicros        int64
	MinimumReserveMicros int64
	Message              string
	Acknowledged         bool
	CreatedAt            time.Time
}

// LiquidityCheckResult reports whether a pool can cover a requested amount.
// Sufficient requires both a zero shortfall and an ACTIVE pool.
type LiquidityCheckResult struct {
	PoolID          string
	PoolStatus      PoolStatus
	RequestedMicros int64
	AvailableMicros int64
	ShortfallMicros int64
	Sufficient      bool
}
