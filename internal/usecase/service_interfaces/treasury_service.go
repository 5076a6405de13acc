package service_interfaces

import (
	"context"
	"time"

	"github.com/parametriq/settlement-core/internal/domain"
)

type TreasuryService interface {
	CreatePool(ctx context.Context, pool domain.LiquidityPool) (domain.LiquidityPool, error)
	GetPool(ctx context.Context, poolID string) (domain.LiquidityPool, error)
	ListPools(ctx context.Context) ([]domain.LiquidityPool, error)
	CreditPool(ctx context.Context, poolID string, amountMicros int64) (domain.LiquidityPool, error)

	CheckLiquidity(ctx context.Context, poolID string, amountMicros int64) (domain.LiquidityCheckResult, error)
	LockFunds(ctx context.Context, poolID, claimID string, amountMicros int64, ttl time.Duration) (domain.FundLock, error)
	ReleaseLock(ctx context.Context, lockID string) error
	ActiveLockForClaim(ctx context.Context, claimID string) (domain.FundLock, error)
	SweepExpiredLocks(ctx context.Context) (int, error)

	ListUnacknowledgedAlerts(ctx context.Context) ([]domain.TreasuryAlert, error)
	AcknowledgeAlert(ctx context.Context, alertID string) error
}
