package implementations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/parametriq/settlement-core/internal/commons"
	"github.com/parametriq/settlement-core/internal/domain"
	"github.com/parametriq/settlement-core/internal/logger"
)

type TreasuryRepository struct {
	db *sql.DB
}

func NewTreasuryRepository(db *sql.DB) *TreasuryRepository {
	return &TreasuryRepository{db: db}
}

const poolColumns = `id, name, account_type, currency, balance_micros, minimum_reserve_micros, status, created_at, last_activity_at`

func scanPool(row interface{ Scan(...any) error }) (domain.LiquidityPool, error) {
	var pool domain.LiquidityPool
	err := row.Scan(
		&pool.ID,
		&pool.Name,
		&pool.AccountType,
		&pool.Currency,
		&pool.BalanceMicros,
		&pool.MinimumReserveMicros,
		&pool.Status,
		&pool.CreatedAt,
		&pool.LastActivityAt,
	)
	return pool, err
}

func (r *TreasuryRepository) CreatePool(ctx context.Context, pool domain.LiquidityPool) (domain.LiquidityPool, error) {
	logger.Info("treasury repository create pool", logger.Fields{
		"poolId":   pool.ID,
		"currency": pool.Currency,
	})

	const query = `
INSERT INTO liquidity_pools (
	id,
	name,
	account_type,
	currency,
	balance_micros,
	minimum_reserve_micros,
	status
) VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, last_activity_at`

	if err := r.db.QueryRowContext(
		ctx,
		query,
		pool.ID,
		pool.Name,
		pool.AccountType,
		pool.Currency,
		pool.BalanceMicros,
		pool.MinimumReserveMicros,
		pool.Status,
	).Scan(&pool.CreatedAt, &pool.LastActivityAt); err != nil {
		logger.Error("treasury repository create pool failed", err, logger.Fields{
			"poolId": pool.ID,
		})
		return domain.LiquidityPool{}, fmt.Errorf("create liquidity pool: %w", err)
	}

	return pool, nil
}

func (r *TreasuryRepository) GetPool(ctx context.Context, poolID string) (domain.LiquidityPool, error) {
	query := `SELECT ` + poolColumns + ` FROM liquidity_pools WHERE id = $1`

	pool, err := scanPool(r.db.QueryRowContext(ctx, query, poolID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LiquidityPool{}, commons.ErrRecordNotFound
		}
		logger.Error("treasury repository get pool failed", err, logger.Fields{
			"poolId": poolID,
		})
		return domain.LiquidityPool{}, fmt.Errorf("get liquidity pool: %w", err)
	}
	return pool, nil
}

func (r *TreasuryRepository) ListPools(ctx context.Context) ([]domain.LiquidityPool, error) {
	query := `SELECT ` + poolColumns + ` FROM liquidity_pools ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		logger.Error("treasury repository list pools failed", err, nil)
		return nil, fmt.Errorf("list liquidity pools: %w", err)
	}
	defer rows.Close()

	pools := make([]domain.LiquidityPool, 0)
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan liquidity pool: %w", err)
		}
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate liquidity pools: %w", err)
	}
	return pools, nil
}

func (r *TreasuryRepository) AdjustPoolBalance(ctx context.Context, poolID string, deltaMicros int64) (domain.LiquidityPool, error) {
	logger.Info("treasury repository adjust pool balance", logger.Fields{
		"poolId":      poolID,
		"deltaMicros": deltaMicros,
	})

	query := `
UPDATE liquidity_pools
SET balance_micros = balance_micros + $2,
    last_activity_at = NOW()
WHERE id = $1
  AND balance_micros + $2 >= 0
RETURNING ` + poolColumns

	pool, err := scanPool(r.db.QueryRowContext(ctx, query, poolID, deltaMicros))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LiquidityPool{}, commons.ErrRecordNotFound
		}
		logger.Error("treasury repository adjust pool balance failed", err, logger.Fields{
			"poolId": poolID,
		})
		return domain.LiquidityPool{}, fmt.Errorf("adjust pool balance: %w", err)
	}
	return pool, nil
}

func (r *TreasuryRepository) UpdatePoolStatus(ctx context.Context, poolID string, status domain.PoolStatus) error {
	const query = `
UPDATE liquidity_pools
SET status = $2,
    last_activity_at = NOW()
WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, poolID, status)
	if err != nil {
		logger.Error("treasury repository update pool status failed", err, logger.Fields{
			"poolId": poolID,
			"status": status,
		})
		return fmt.Errorf("update pool status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pool status rows affected: %w", err)
	}
	if rows == 0 {
		return commons.ErrRecordNotFound
	}
	return nil
}

// CreateLockDebitingPool moves the locked amount out of the pool balance and
// records the lock in one atomic unit. The debit is guarded on an ACTIVE
// pool with sufficient balance; the partial unique index on LOCKED claim ids
// turns a lock race into a unique violation for the caller to classify.
func (r *TreasuryRepository) CreateLockDebitingPool(ctx context.Context, lock domain.FundLock) (domain.FundLock, error) {
	logger.Info("treasury repository create lock", logger.Fields{
		"lockId":       lock.ID,
		"poolId":       lock.PoolID,
		"claimId":      lock.ClaimID,
		"amountMicros": lock.AmountMicros,
	})

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("treasury repository begin lock tx failed", err, nil)
		return domain.FundLock{}, fmt.Errorf("begin lock transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const debitQuery = `
UPDATE liquidity_pools
SET balance_micros = balance_micros - $2,
    last_activity_at = NOW()
WHERE id = $1
  AND status = 'ACTIVE'
  AND balance_micros >= $2`
	result, execErr := tx.ExecContext(ctx, debitQuery, lock.PoolID, lock.AmountMicros)
	if execErr != nil {
		err = fmt.Errorf("debit pool for lock: %w", execErr)
		return domain.FundLock{}, err
	}
	affected, execErr := result.RowsAffected()
	if execErr != nil {
		err = fmt.Errorf("debit pool rows affected: %w", execErr)
		return domain.FundLock{}, err
	}
	if affected == 0 {
		// The guard missed: the pool is gone, suspended, or too low. Re-read
		// under the same tx so the caller gets a typed error to classify
		// instead of a bare rows-affected failure.
		var balanceMicros int64
		lookupErr := tx.QueryRowContext(ctx, `SELECT balance_micros FROM liquidity_pools WHERE id = $1`, lock.PoolID).Scan(&balanceMicros)
		switch {
		case errors.Is(lookupErr, sql.ErrNoRows):
			err = commons.ErrRecordNotFound
		case lookupErr != nil:
			err = fmt.Errorf("classify lock debit failure: %w", lookupErr)
		default:
			shortfall := lock.AmountMicros - balanceMicros
			if shortfall < 0 {
				shortfall = 0
			}
			err = &domain.InsufficientLiquidityError{
				PoolID:          lock.PoolID,
				RequestedMicros: lock.AmountMicros,
				AvailableMicros: balanceMicros,
				ShortfallMicros: shortfall,
			}
		}
		return domain.FundLock{}, err
	}

	const insertQuery = `
INSERT INTO fund_locks (
	id,
	pool_id,
	claim_id,
	amount_micros,
	status,
	locked_at,
	expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err = tx.ExecContext(
		ctx,
		insertQuery,
		lock.ID,
		lock.PoolID,
		lock.ClaimID,
		lock.AmountMicros,
		lock.Status,
		lock.LockedAt,
		lock.ExpiresAt,
	); err != nil {
		logger.Error("treasury repository insert lock failed", err, logger.Fields{
			"claimId": lock.ClaimID,
		})
		return domain.FundLock{}, fmt.Errorf("insert fund lock: %w", err)
	}

	if err = tx.Commit(); err != nil {
		logger.Error("treasury repository commit lock tx failed", err, nil)
		return domain.FundLock{}, fmt.Errorf("commit lock transaction: %w", err)
	}

	return lock, nil
}

const lockColumns = `id, pool_id, claim_id, amount_micros, status, locked_at, expires_at`

func scanLock(row interface{ Scan(...any) error }) (domain.FundLock, error) {
	var lock domain.FundLock
	err := row.Scan(
		&lock.ID,
		&lock.PoolID,
		&lock.ClaimID,
		&lock.AmountMicros,
		&lock.Status,
		&lock.LockedAt,
		&lock.ExpiresAt,
	)
	return lock, err
}

func (r *TreasuryRepository) GetLock(ctx context.Context, lockID string) (domain.FundLock, error) {
	query := `SELECT ` + lockColumns + ` FROM fund_locks WHERE id = $1`

	lock, err := scanLock(r.db.QueryRowContext(ctx, query, lockID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FundLock{}, commons.ErrRecordNotFound
		}
		return domain.FundLock{}, fmt.Errorf("get fund lock: %w", err)
	}
	return lock, nil
}

func (r *TreasuryRepository) ActiveLockForClaim(ctx context.Context, claimID string) (domain.FundLock, error) {
	query := `SELECT ` + lockColumns + ` FROM fund_locks WHERE claim_id = $1 AND status = 'LOCKED'`

	lock, err := scanLock(r.db.QueryRowContext(ctx, query, claimID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FundLock{}, commons.ErrRecordNotFound
		}
		return domain.FundLock{}, fmt.Errorf("get active lock for claim: %w", err)
	}
	return lock, nil
}

func (r *TreasuryRepository) TransitionLock(ctx context.Context, lockID string, from, to domain.LockStatus) (bool, error) {
	const query = `
UPDATE fund_locks
SET status = $3
WHERE id = $1
  AND status = $2`

	result, err := r.db.ExecContext(ctx, query, lockID, from, to)
	if err != nil {
		logger.Error("treasury repository transition lock failed", err, logger.Fields{
			"lockId": lockID,
			"from":   from,
			"to":     to,
		})
		return false, fmt.Errorf("transition fund lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition fund lock rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *TreasuryRepository) ExpireLockCreditingPool(ctx context.Context, lockID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("treasury repository begin expire tx failed", err, nil)
		return false, fmt.Errorf("begin expire transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const expireQuery = `
UPDATE fund_locks
SET status = 'EXPIRED'
WHERE id = $1
  AND status = 'LOCKED'
RETURNING pool_id, amount_micros`

	var (
		poolID       string
		amountMicros int64
	)
	if err = tx.QueryRowContext(ctx, expireQuery, lockID).Scan(&poolID, &amountMicros); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already resolved by a concurrent sweep or a release.
			err = nil
			_ = tx.Rollback()
			return false, nil
		}
		return false, fmt.Errorf("expire fund lock: %w", err)
	}

	const creditQuery = `
UPDATE liquidity_pools
SET balance_micros = balance_micros + $2,
    last_activity_at = NOW()
WHERE id = $1`
	if _, err = execRequiredRows(ctx, tx, creditQuery, poolID, amountMicros); err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		logger.Error("treasury repository commit expire tx failed", err, logger.Fields{
			"lockId": lockID,
		})
		return false, fmt.Errorf("commit expire transaction: %w", err)
	}

	logger.Info("treasury repository lock expired", logger.Fields{
		"lockId":       lockID,
		"poolId":       poolID,
		"amountMicros": amountMicros,
	})
	return true, nil
}

func (r *TreasuryRepository) ExpiredLocks(ctx context.Context, asOf time.Time) ([]domain.FundLock, error) {
	query := `SELECT ` + lockColumns + ` FROM fund_locks WHERE status = 'LOCKED' AND expires_at < $1 ORDER BY expires_at`

	rows, err := r.db.QueryContext(ctx, query, asOf)
	if err != nil {
		logger.Error("treasury repository expired locks failed", err, nil)
		return nil, fmt.Errorf("list expired locks: %w", err)
	}
	defer rows.Close()

	locks := make([]domain.FundLock, 0)
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fund lock: %w", err)
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fund locks: %w", err)
	}
	return locks, nil
}

func (r *TreasuryRepository) CreateAlert(ctx context.Context, alert domain.TreasuryAlert) (domain.TreasuryAlert, error) {
	logger.Info("treasury repository create alert", logger.Fields{
		"alertId": alert.ID,
		"poolId":  alert.PoolID,
		"type":    alert.Type,
	})

	const query = `
INSERT INTO treasury_alerts (
	id,
	pool_id,
	type,
	balance_micros,
	minimum_reserve_micros,
	message,
	acknowledged
) VALUES ($1, $2, $3, $4, $5, $6, FALSE)
RETURNING created_at`

	if err := r.db.QueryRowContext(
		ctx,
		query,
		alert.ID,
		alert.PoolID,
		alert.Type,
		alert.BalanceMicros,
		alert.MinimumReserveMicros,
		alert.Message,
	).Scan(&alert.CreatedAt); err != nil {
		logger.Error("treasury repository create alert failed", err, logger.Fields{
			"poolId": alert.PoolID,
		})
		return domain.TreasuryAlert{}, fmt.Errorf("create treasury alert: %w", err)
	}

	return alert, nil
}

func (r *TreasuryRepository) HasUnacknowledgedAlert(ctx context.Context, poolID string, alertType domain.AlertType) (bool, error) {
	const query = `
SELECT EXISTS (
	SELECT 1
	FROM treasury_alerts
	WHERE pool_id = $1
	  AND type = $2
	  AND acknowledged = FALSE
)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, poolID, alertType).Scan(&exists); err != nil {
		return false, fmt.Errorf("check unacknowledged alert: %w", err)
	}
	return exists, nil
}

func (r *TreasuryRepository) ListUnacknowledgedAlerts(ctx context.Context) ([]domain.TreasuryAlert, error) {
	const query = `
SELECT id, pool_id, type, balance_micros, minimum_reserve_micros, message, acknowledged, created_at
FROM treasury_alerts
WHERE acknowledged = FALSE
ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list unacknowledged alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]domain.TreasuryAlert, 0)
	for rows.Next() {
		var alert domain.TreasuryAlert
		if err := rows.Scan(
			&alert.ID,
			&alert.PoolID,
			&alert.Type,
			&alert.BalanceMicros,
			&alert.MinimumReserveMicros,
			&alert.Message,
			&alert.Acknowledged,
			&alert.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan treasury alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate treasury alerts: %w", err)
	}
	return alerts, nil
}

func (r *TreasuryRepository) AcknowledgeAlert(ctx context.Context, alertID string) error {
	const query = `
UPDATE treasury_alerts
SET acknowledged = TRUE
WHERE id = $1
  AND acknowledged = FALSE`

	result, err := r.db.ExecContext(ctx, query, alertID)
	if err != nil {
		logger.Error("treasury repository acknowledge alert failed", err, logger.Fields{
			"alertId": alertID,
		})
		return fmt.Errorf("acknowledge treasury alert: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("acknowledge alert rows affected: %w", err)
	}
	if rows == 0 {
		return commons.ErrRecordNotFound
	}
	return nil
}
