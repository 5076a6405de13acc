package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/parametriq/settlement-core/internal/commons"
	"github.com/parametriq/settlement-core/internal/domain"
)

// TreasuryRepository mirrors the postgres treasury store in memory. All
// guarded mutations happen under one mutex, matching the single-statement
// atomicity of the SQL implementation.
type TreasuryRepository struct {
	mu     sync.Mutex
	pools  map[string]domain.LiquidityPool
	locks  map[string]domain.FundLock
	alerts map[string]domain.TreasuryAlert
}

func NewTreasuryRepository() *TreasuryRepository {
	return &TreasuryRepository{
		pools:  make(map[string]domain.LiquidityPool),
		locks:  make(map[string]domain.FundLock),
		alerts: make(map[string]domain.TreasuryAlert),
	}
}

func (r *TreasuryRepository) CreatePool(_ context.Context, pool domain.LiquidityPool) (domain.LiquidityPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pools[pool.ID]; exists {
		return domain.LiquidityPool{}, errors.New("pool already exists")
	}

	now := time.Now().UTC()
	pool.CreatedAt = now
	pool.LastActivityAt = now
	r.pools[pool.ID] = pool
	return pool, nil
}

func (r *TreasuryRepository) GetPool(_ context.Context, poolID string) (domain.LiquidityPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[poolID]
	if !ok {
		return domain.LiquidityPool{}, commons.ErrRecordNotFound
	}
	return pool, nil
}

func (r *TreasuryRepository) ListPools(_ context.Context) ([]domain.LiquidityPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pools := make([]domain.LiquidityPool, 0, len(r.pools))
	for _, pool := range r.pools {
		pools = append(pools, pool)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].ID < pools[j].ID })
	return pools, nil
}

func (r *TreasuryRepository) AdjustPoolBalance(_ context.Context, poolID string, deltaMicros int64) (domain.LiquidityPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.adjustPoolLocked(poolID, deltaMicros)
}

func (r *TreasuryRepository) adjustPoolLocked(poolID string, deltaMicros int64) (domain.LiquidityPool, error) {
	pool, ok := r.pools[poolID]
	if !ok || pool.BalanceMicros+deltaMicros < 0 {
		return domain.LiquidityPool{}, commons.ErrRecordNotFound
	}

	pool.BalanceMicros += deltaMicros
	pool.LastActivityAt = time.Now().UTC()
	r.pools[poolID] = pool
	return pool, nil
}

func (r *TreasuryRepository) UpdatePoolStatus(_ context.Context, poolID string, status domain.PoolStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[poolID]
	if !ok {
		return commons.ErrRecordNotFound
	}
	pool.Status = status
	pool.LastActivityAt = time.Now().UTC()
	r.pools[poolID] = pool
	return nil
}

func (r *TreasuryRepository) CreateLockDebitingPool(_ context.Context, lock domain.FundLock) (domain.FundLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.locks {
		if existing.ClaimID == lock.ClaimID && existing.Status == domain.LockStatusLocked {
			return domain.FundLock{}, &domain.DuplicateLockError{ClaimID: lock.ClaimID, LockID: existing.ID}
		}
	}

	pool, ok := r.pools[lock.PoolID]
	if !ok {
		return domain.FundLock{}, commons.ErrRecordNotFound
	}
	if pool.Status != domain.PoolStatusActive || pool.BalanceMicros < lock.AmountMicros {
		shortfall := lock.AmountMicros - pool.BalanceMicros
		if shortfall < 0 {
			shortfall = 0
		}
		return domain.FundLock{}, &domain.InsufficientLiquidityError{
			PoolID:          lock.PoolID,
			RequestedMicros: lock.AmountMicros,
			AvailableMicros: pool.BalanceMicros,
			ShortfallMicros: shortfall,
		}
	}

	if _, err := r.adjustPoolLocked(lock.PoolID, -lock.AmountMicros); err != nil {
		return domain.FundLock{}, err
	}
	r.locks[lock.ID] = lock
	return lock, nil
}

func (r *TreasuryRepository) GetLock(_ context.Context, lockID string) (domain.FundLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[lockID]
	if !ok {
		return domain.FundLock{}, commons.ErrRecordNotFound
	}
	return lock, nil
}

func (r *TreasuryRepository) ActiveLockForClaim(_ context.Context, claimID string) (domain.FundLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, lock := range r.locks {
		if lock.ClaimID == claimID && lock.Status == domain.LockStatusLocked {
			return lock, nil
		}
	}
	return domain.FundLock{}, commons.ErrRecordNotFound
}

func (r *TreasuryRepository) TransitionLock(_ context.Context, lockID string, from, to domain.LockStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[lockID]
	if !ok || lock.Status != from {
		return false, nil
	}
	lock.Status = to
	r.locks[lockID] = lock
	return true, nil
}

func (r *TreasuryRepository) ExpireLockCreditingPool(_ context.Context, lockID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[lockID]
	if !ok || lock.Status != domain.LockStatusLocked {
		return false, nil
	}

	lock.Status = domain.LockStatusExpired
	r.locks[lockID] = lock
	if _, err := r.adjustPoolLocked(lock.PoolID, lock.AmountMicros); err != nil {
		return false, err
	}
	return true, nil
}

func (r *TreasuryRepository) ExpiredLocks(_ context.Context, asOf time.Time) ([]domain.FundLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	locks := make([]domain.FundLock, 0)
	for _, lock := range r.locks {
		if lock.Status == domain.LockStatusLocked && lock.ExpiresAt.Before(asOf) {
			locks = append(locks, lock)
		}
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].ExpiresAt.Before(locks[j].ExpiresAt) })
	return locks, nil
}

func (r *TreasuryRepository) CreateAlert(_ context.Context, alert domain.TreasuryAlert) (domain.TreasuryAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alert.CreatedAt = time.Now().UTC()
	r.alerts[alert.ID] = alert
	return alert, nil
}

func (r *TreasuryRepository) HasUnacknowledgedAlert(_ context.Context, poolID string, alertType domain.AlertType) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, alert := range r.alerts {
		if alert.PoolID == poolID && alert.Type == alertType && !alert.Acknowledged {
			return true, nil
		}
	}
	return false, nil
}

func (r *TreasuryRepository) ListUnacknowledgedAlerts(_ context.Context) ([]domain.TreasuryAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alerts := make([]domain.TreasuryAlert, 0)
	for _, alert := range r.alerts {
		if !alert.Acknowledged {
			alerts = append(alerts, alert)
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.Before(alerts[j].CreatedAt) })
	return alerts, nil
}

func (r *TreasuryRepository) AcknowledgeAlert(_ context.Context, alertID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	alert, ok := r.alerts[alertID]
	if !ok || alert.Acknowledged {
		return commons.ErrRecordNotFound
	}
	alert.Acknowledged = true
	r.alerts[alertID] = alert
	return nil
}
