package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parametriq/settlement-core/internal/adapter/repository/repo_interfaces"
	"github.com/parametriq/settlement-core/internal/commons"
	"github.com/parametriq/settlement-core/internal/domain"
	"github.com/parametriq/settlement-core/internal/logger"
)

// Reserve warnings fire below 1.5x the minimum reserve, critical alerts
// below the minimum reserve itself.
const reserveWarningNumerator = 3
const reserveWarningDenominator = 2

// TreasuryService manages liquidity pools, the fund lock lifecycle and
// reserve alerting. Locking funds moves the amount out of the pool balance;
// only the expiry sweep moves it back.
type TreasuryService struct {
	treasuryRepo repo_interfaces.TreasuryRepository
}

func NewTreasuryService(treasuryRepo repo_interfaces.TreasuryRepository) *TreasuryService {
	return &TreasuryService{treasuryRepo: treasuryRepo}
}

func (s *TreasuryService) CreatePool(ctx context.Context, pool domain.LiquidityPool) (domain.LiquidityPool, error) {
	logger.Info("treasury service create pool", logger.Fields{
		"poolId":   pool.ID,
		"currency": pool.Currency,
	})

	if err := domain.ValidatePoolID(pool.ID); err != nil {
		return domain.LiquidityPool{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(pool.Currency))
	if !domain.IsSupportedCurrency(currency) {
		return domain.LiquidityPool{}, fmt.Errorf("unsupported currency %q", pool.Currency)
	}
	if pool.BalanceMicros < 0 || pool.MinimumReserveMicros < 0 {
		return domain.LiquidityPool{}, fmt.Errorf("pool balance and minimum reserve must not be negative")
	}

	pool.Currency = currency
	if pool.Status == "" {
		pool.Status = domain.PoolStatusActive
	}
	if pool.AccountType == "" {
		pool.AccountType = "LIABILITY_RESERVE"
	}
	return s.treasuryRepo.CreatePool(ctx, pool)
}

func (s *TreasuryService) GetPool(ctx context.Context, poolID string) (domain.LiquidityPool, error) {
	return s.treasuryRepo.GetPool(ctx, strings.TrimSpace(poolID))
}

func (s *TreasuryService) ListPools(ctx context.Context) ([]domain.LiquidityPool, error) {
	return s.treasuryRepo.ListPools(ctx)
}

// CreditPool adds remitted funds to a pool and reactivates it if the credit
// lifts it out of depletion.
func (s *TreasuryService) CreditPool(ctx context.Context, poolID string, amountMicros int64) (domain.LiquidityPool, error) {
	logger.Info("treasury service credit pool", logger.Fields{
		"poolId":       poolID,
		"amountMicros": amountMicros,
	})

	if amountMicros <= 0 {
		return domain.LiquidityPool{}, fmt.Errorf("credit amount must be greater than zero")
	}

	pool, err := s.treasuryRepo.AdjustPoolBalance(ctx, poolID, amountMicros)
	if err != nil {
		return domain.LiquidityPool{}, err
	}

	if pool.Status == domain.PoolStatusDepleted && pool.BalanceMicros > 0 {
		if err := s.treasuryRepo.UpdatePoolStatus(ctx, poolID, domain.PoolStatusActive); err != nil {
			return domain.LiquidityPool{}, err
		}
		pool.Status = domain.PoolStatusActive
	}
	return pool, nil
}

func (s *TreasuryService) CheckLiquidity(ctx context.Context, poolID string, amountMicros int64) (domain.LiquidityCheckResult, error) {
	pool, err := s.treasuryRepo.GetPool(ctx, strings.TrimSpace(poolID))
	if err != nil {
		return domain.LiquidityCheckResult{}, err
	}
	return liquidityCheck(pool, amountMicros), nil
}

func liquidityCheck(pool domain.LiquidityPool, amountMicros int64) domain.LiquidityCheckResult {
	shortfall := amountMicros - pool.BalanceMicros
	if shortfall < 0 {
		shortfall = 0
	}
	return domain.LiquidityCheckResult{
		PoolID:          pool.ID,
		PoolStatus:      pool.Status,
		RequestedMicros: amountMicros,
		AvailableMicros: pool.BalanceMicros,
		ShortfallMicros: shortfall,
		Sufficient:      shortfall == 0 && pool.Status == domain.PoolStatusActive,
	}
}

func (s *TreasuryService) LockFunds(ctx context.Context, poolID, claimID string, amountMicros int64, ttl time.Duration) (domain.FundLock, error) {
	poolID = strings.TrimSpace(poolID)
	claimID = strings.TrimSpace(claimID)
	logger.Info("treasury service lock funds", logger.Fields{
		"poolId":       poolID,
		"claimId":      claimID,
		"amountMicros": amountMicros,
	})

	if claimID == "" {
		return domain.FundLock{}, fmt.Errorf("claim id is required")
	}
	if amountMicros <= 0 {
		return domain.FundLock{}, fmt.Errorf("lock amount must be greater than zero")
	}
	if ttl <= 0 {
		return domain.FundLock{}, fmt.Errorf("lock ttl must be greater than zero")
	}

	if existing, err := s.treasuryRepo.ActiveLockForClaim(ctx, claimID); err == nil {
		return domain.FundLock{}, &domain.DuplicateLockError{ClaimID: claimID, LockID: existing.ID}
	} else if !errors.Is(err, commons.ErrRecordNotFound) {
		return domain.FundLock{}, err
	}

	pool, err := s.treasuryRepo.GetPool(ctx, poolID)
	if err != nil {
		return domain.FundLock{}, err
	}

	if check := liquidityCheck(pool, amountMicros); !check.Sufficient {
		insufficiency := &domain.InsufficientLiquidityError{
			PoolID:          poolID,
			RequestedMicros: amountMicros,
			AvailableMicros: check.AvailableMicros,
			ShortfallMicros: check.ShortfallMicros,
		}
		s.emitAlert(ctx, pool, domain.AlertLiquidityFailure, insufficiency.Error())
		return domain.FundLock{}, insufficiency
	}

	now := time.Now().UTC()
	lock := domain.FundLock{
		ID:           uuid.NewString(),
		PoolID:       poolID,
		ClaimID:      claimID,
		AmountMicros: amountMicros,
		Status:       domain.LockStatusLocked,
		LockedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}

	created, err := s.treasuryRepo.CreateLockDebitingPool(ctx, lock)
	if err != nil {
		var duplicate *domain.DuplicateLockError
		if errors.As(err, &duplicate) {
			return domain.FundLock{}, duplicate
		}
		if isUniqueViolation(err) {
			return domain.FundLock{}, &domain.DuplicateLockError{ClaimID: claimID}
		}
		var insufficient *domain.InsufficientLiquidityError
		if errors.As(err, &insufficient) {
			// The balance moved between the liquidity check and the guarded
			// debit. Same outcome as failing the check up front.
			s.emitAlert(ctx, pool, domain.AlertLiquidityFailure, insufficient.Error())
			return domain.FundLock{}, insufficient
		}
		logger.Error("treasury service lock funds failed", err, logger.Fields{
			"poolId":  poolID,
			"claimId": claimID,
		})
		return domain.FundLock{}, err
	}

	s.afterDebit(ctx, poolID)

	logger.Info("treasury service lock funds success", logger.Fields{
		"lockId":    created.ID,
		"claimId":   created.ClaimID,
		"expiresAt": created.ExpiresAt,
	})
	return created, nil
}

// afterDebit re-reads the pool to evaluate reserve thresholds and mark
// depletion. Alerting failures are logged, never surfaced: the lock itself
// already committed.
func (s *TreasuryService) afterDebit(ctx context.Context, poolID string) {
	pool, err := s.treasuryRepo.GetPool(ctx, poolID)
	if err != nil {
		logger.Error("treasury service post-debit pool read failed", err, logger.Fields{
			"poolId": poolID,
		})
		return
	}

	if pool.BalanceMicros == 0 && pool.Status == domain.PoolStatusActive {
		if err := s.treasuryRepo.UpdatePoolStatus(ctx, poolID, domain.PoolStatusDepleted); err != nil {
			logger.Error("treasury service mark pool depleted failed", err, logger.Fields{
				"poolId": poolID,
			})
		}
	}

	s.EvaluateReserve(ctx, pool)
}

// EvaluateReserve emits at most one unacknowledged alert of a given type per
// pool per breach episode. A fresh breach after full acknowledgement emits
// again.
func (s *TreasuryService) EvaluateReserve(ctx context.Context, pool domain.LiquidityPool) {
	if pool.MinimumReserveMicros <= 0 {
		return
	}

	warningThreshold := pool.MinimumReserveMicros * reserveWarningNumerator / reserveWarningDenominator
	switch {
	case pool.BalanceMicros < pool.MinimumReserveMicros:
		s.emitAlert(ctx, pool, domain.AlertCriticalLow, fmt.Sprintf(
			"pool %s balance %d micros is below minimum reserve %d micros",
			pool.ID, pool.BalanceMicros, pool.MinimumReserveMicros))
	case pool.BalanceMicros < warningThreshold:
		s.emitAlert(ctx, pool, domain.AlertWarningLow, fmt.Sprintf(
			"pool %s balance %d micros is approaching minimum reserve %d micros",
			pool.ID, pool.BalanceMicros, pool.MinimumReserveMicros))
	}
}

func (s *TreasuryService) emitAlert(ctx context.Context, pool domain.LiquidityPool, alertType domain.AlertType, message string) {
	exists, err := s.treasuryRepo.HasUnacknowledgedAlert(ctx, pool.ID, alertType)
	if err != nil {
		logger.Error("treasury service alert lookup failed", err, logger.Fields{
			"poolId": pool.ID,
			"type":   alertType,
		})
		return
	}
	if exists {
		return
	}

	alert := domain.TreasuryAlert{
		ID:                   uuid.NewString(),
		PoolID:               pool.ID,
		Type:                 alertType,
		BalanceMicros:        pool.BalanceMicros,
		MinimumReserveMicros: pool.MinimumReserveMicros,
		Message:              message,
	}
	if _, err := s.treasuryRepo.CreateAlert(ctx, alert); err != nil {
		logger.Error("treasury service emit alert failed", err, logger.Fields{
			"poolId": pool.ID,
			"type":   alertType,
		})
		return
	}

	logger.Info("treasury service alert emitted", logger.Fields{
		"poolId": pool.ID,
		"type":   alertType,
	})
}

// ReleaseLock transitions LOCKED to RELEASED. Releasing an already released
// or expired lock is a no-op: settlement and the expiry sweep may race.
func (s *TreasuryService) ReleaseLock(ctx context.Context, lockID string) error {
	transitioned, err := s.treasuryRepo.TransitionLock(ctx, strings.TrimSpace(lockID), domain.LockStatusLocked, domain.LockStatusReleased)
	if err != nil {
		return err
	}

	logger.Info("treasury service release lock", logger.Fields{
		"lockId":       lockID,
		"transitioned": transitioned,
	})
	return nil
}

func (s *TreasuryService) ActiveLockForClaim(ctx context.Context, claimID string) (domain.FundLock, error) {
	return s.treasuryRepo.ActiveLockForClaim(ctx, strings.TrimSpace(claimID))
}

// SweepExpiredLocks is the compensating action for authorizations that were
// never settled. Safe to run concurrently and repeatedly: each lock
// transitions at most once, and only the transition that wins credits the
// pool.
func (s *TreasuryService) SweepExpiredLocks(ctx context.Context) (int, error) {
	expired, err := s.treasuryRepo.ExpiredLocks(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	swept := 0
	creditedPools := make(map[string]struct{})
	for _, lock := range expired {
		transitioned, err := s.treasuryRepo.ExpireLockCreditingPool(ctx, lock.ID)
		if err != nil {
			logger.Error("treasury service expire lock failed", err, logger.Fields{
				"lockId": lock.ID,
			})
			return swept, err
		}
		if transitioned {
			swept++
			creditedPools[lock.PoolID] = struct{}{}
		}
	}

	for poolID := range creditedPools {
		pool, err := s.treasuryRepo.GetPool(ctx, poolID)
		if err != nil {
			logger.Error("treasury service post-sweep pool read failed", err, logger.Fields{
				"poolId": poolID,
			})
			continue
		}
		if pool.Status == domain.PoolStatusDepleted && pool.BalanceMicros > 0 {
			if err := s.treasuryRepo.UpdatePoolStatus(ctx, poolID, domain.PoolStatusActive); err != nil {
				logger.Error("treasury service reactivate pool failed", err, logger.Fields{
					"poolId": poolID,
				})
			}
		}
	}

	if swept > 0 {
		logger.Info("treasury service sweep complete", logger.Fields{
			"sweptLocks": swept,
		})
	}
	return swept, nil
}

func (s *TreasuryService) ListUnacknowledgedAlerts(ctx context.Context) ([]domain.TreasuryAlert, error) {
	return s.treasuryRepo.ListUnacknowledgedAlerts(ctx)
}

func (s *TreasuryService) AcknowledgeAlert(ctx context.Context, alertID string) error {
	return s.treasuryRepo.AcknowledgeAlert(ctx, strings.TrimSpace(alertID))
}
