package repo_interfaces

import (
	"context"
	"time"

	"github.com/parametriq/settlement-core/internal/domain"
)

// TreasuryRepository owns liquidity pools, fund locks and alerts. Balance
// moves and lock transitions are guarded at the store so that concurrent
// sweeps and settlements cannot double-apply an effect.
type TreasuryRepository interface {
	CreatePool(ctx context.Context, pool domain.LiquidityPool) (domain.LiquidityPool, error)
	GetPool(ctx context.Context, poolID string) (domain.LiquidityPool, error)
	ListPools(ctx context.Context) ([]domain.LiquidityPool, error)
	// AdjustPoolBalance applies a signed delta and refreshes last activity.
	// A negative delta that would take the balance below zero affects no
	// rows and returns commons.ErrRecordNotFound.
	AdjustPoolBalance(ctx context.Context, poolID string, deltaMicros int64) (domain.LiquidityPool, error)
	UpdatePoolStatus(ctx context.Context, poolID string, status domain.PoolStatus) error

	// CreateLockDebitingPool inserts a LOCKED lock and debits its pool in
	// one atomic unit. The partial unique index on (claim_id) WHERE
	// status = 'LOCKED' backs the one-active-lock-per-claim invariant.
	CreateLockDebitingPool(ctx context.Context, lock domain.FundLock) (domain.FundLock, error)
	GetLock(ctx context.Context, lockID string) (domain.FundLock, error)
	ActiveLockForClaim(ctx context.Context, claimID string) (domain.FundLock, error)
	// TransitionLock moves a lock from one status to another and reports
	// whether this call performed the transition. Repeating a transition
	// is a no-op returning false.
	TransitionLock(ctx context.Context, lockID string, from, to domain.LockStatus) (bool, error)
	// ExpireLockCreditingPool transitions LOCKED to EXPIRED and returns the
	// locked amount to the pool balance, atomically. Returns false when the
	// lock was already resolved by a concurrent sweep or release.
	ExpireLockCreditingPool(ctx context.Context, lockID string) (bool, error)
	ExpiredLocks(ctx context.Context, asOf time.Time) ([]domain.FundLock, error)

	CreateAlert(ctx context.Context, alert domain.TreasuryAlert) (domain.TreasuryAlert, error)
	HasUnacknowledgedAlert(ctx context.Context, poolID string, alertType domain.AlertType) (bool, error)
	ListUnacknowledgedAlerts(ctx context.Context) ([]domain.TreasuryAlert, error)
	// AcknowledgeAlert flips the flag exactly once; acknowledging an
	// already-acknowledged alert returns commons.ErrRecordNotFound.
	AcknowledgeAlert(ctx context.Context, alertID string) error
}
