package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parametriq/settlement-core/internal/adapter/repository/memory"
	"github.com/parametriq/settlement-core/internal/domain"
)

func newTestPool(t *testing.T, svc *TreasuryService, poolID string, balanceMicros, reserveMicros int64) domain.LiquidityPool {
	t.Helper()
	pool, err := svc.CreatePool(context.Background(), domain.LiquidityPool{
		ID:                   poolID,
		Name:                 "Test Pool",
		Currency:             "USD",
		BalanceMicros:        balanceMicros,
		MinimumReserveMicros: reserveMicros,
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return pool
}

func TestCreatePool_Validation(t *testing.T) {
	svc := NewTreasuryService(memory.NewTreasuryRepository())

	if _, err := svc.CreatePool(context.Background(), domain.LiquidityPool{ID: "reserve", Currency: "USD"}); err == nil {
		t.Fatal("expected an error for a pool id without the pool_ prefix")
	}
	if _, err := svc.CreatePool(context.Background(), domain.LiquidityPool{ID: "pool_x", Currency: "JPY"}); err == nil {
		t.Fatal("expected an error for an unsupported currency")
	}
	if _, err := svc.CreatePool(context.Background(), domain.LiquidityPool{ID: "pool_x", Currency: "USD", BalanceMicros: -1}); err == nil {
		t.Fatal("expected an error for a negative balance")
	}
}

func TestCreatePool_Defaults(t *testing.T) {
	svc := NewTreasuryService(memory.NewTreasuryRepository())

	pool := newTestPool(t, svc, "pool_general", 100, 0)
	if pool.Status != domain.PoolStatusActive {
		t.Fatalf("expected ACTIVE status, got %s", pool.Status)
	}
	if pool.AccountType != "LIABILITY_RESERVE" {
		t.Fatalf("unexpected account type %s", pool.AccountType)
	}
}

func TestCheckLiquidity_ShortfallMath(t *testing.T) {
	svc := NewTreasuryService(memory.NewTreasuryRepository())
	newTestPool(t, svc, "pool_general", 1_000_000, 0)

	result, err := svc.CheckLiquidity(context.Background(), "pool_general", 400_000)
	if err != nil {
		t.Fatalf("check liquidity: %v", err)
	}
	if !result.Sufficient || result.ShortfallMicros != 0 {
		t.Fatalf("expected sufficient liquidity, got %+v", result)
	}

	result, err = svc.CheckLiquidity(context.Background(), "pool_general", 1_500_000)
	if err != nil {
		t.Fatalf("check liquidity: %v", err)
	}
	if result.Sufficient {
		t.Fatal("expected insufficient liquidity")
	}
	if result.ShortfallMicros != 500_000 {
		t.Fatalf("expected shortfall 500000, got %d", result.ShortfallMicros)
	}
	if result.AvailableMicros != 1_000_000 {
		t.Fatalf("expected available 1000000, got %d", result.AvailableMicros)
	}
}

func TestLockFunds_DebitsPoolBalance(t *testing.T) {
	svc := NewTreasuryService(memory.NewTreasuryRepository())
	newTestPool(t, svc, "pool_general", 1_000_000, 0)

	lock, err := svc.LockFunds(context.Background(), "pool_general", "claim_1", 300_000, time.Hour)
	if err != nil {
		t.Fatalf("lock funds: %v", err)
	}
	if lock.Status != domain.LockStatusLocked {
		t.Fatalf("expected LOCKED, got %s", lock.Status)
	}

	pool, err := svc.GetPool(context.Background(), "pool_general")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.BalanceMicros != 700_000 {
		t.Fatalf("expected balance 700000 after lock, got %d", pool.BalanceMicros)
	}
}

func TestLockFunds_SecondLockForClaimRejected(t *testing.T) {
	svc := NewTreasuryService(memory.NewTreasuryRepository())
	newTestPool(t, svc, "pool_general", 1_000_000, 0)

	if _, err := svc.LockFunds(context.Background(), "pool_general", "claim_1", 100_000, time.Hour); err != nil {
		t.Fatalf("first lock: %v", err)
	}

	var duplicate *domain.DuplicateLockError
	_, err := svc.LockFunds(context.Background(), "pool_general", "claim_1", 100_000, time.Hour)
	if !errors.As(err, &duplicate) {
		t.Fatalf("expected DuplicateLockError, got %v", err)
	}
	if duplicate.ClaimID != "claim_1" {
		t.Fatalf("unexpected claim id %s", duplicate.ClaimID)
	}
}

func TestLockFunds_InsufficientLiquidity(t *testing.T) {
	svc := NewTreasuryService(memory.NewTreasuryRepository())
	newTestPool(t, svc, "pool_general", 200_000, 0)

	var insufficient *domain.InsufficientLiquidityError
	_, err := svc.LockFunds(context.Background(), "pool_general", "claim_1", 500_000, time.Hour)
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientLiquidityError, got %v", err)
	}
	if insufficient.ShortfallMicros != 300_000 {
		t.Fatalf("expected shortfall 300000, got %d", insufficient.ShortfallMicros)
	}

	alerts, err := svc.ListUnacknowledgedAlerts(context.Background())
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Type != domain.AlertLiquidityFailure {
		t.Fatalf("expected one LIQUIDITY_FAILURE alert, got %+v", alerts)
	}

	pool, err := svc.GetPool(context.Background(), "pool_general")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.BalanceMicros != 200_000 {
		t.Fatalf("expected the balance untouched, got %d", pool.BalanceMicros)
	}
}

func TestLockFunds_DepletesAndCreditReactivates(t *testing.T) {
	svc := NewTreasuryService(memory.NewTreasuryRepository())
	newTestPool(t, svc, "pool_general", 500_000, 0)

	if _, err := svc.LockFunds(context.Background(), "pool_general", "claim_1", 500_000, time.Hour); err != nil {
		t.Fatalf("lock funds: %v", err)
	}

	pool, err := svc.GetPool(context.Background(), "pool_general")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.Status != domain.PoolStatusDepleted {
		t.Fatalf("expected DEPLETED at zero balance, got %s", pool.Status)
	}

	credited, err := svc.CreditPool(context.Background(), "pool_general", 100_000)
	if err != nil {
		t.Fatalf("credit pool: %v", err)
	}
	if credited.Status != domain.PoolStatusActive {
		t.Fatalf("expected reactivation on credit, got %s", credited.Status)
	}
	if credited.BalanceMicros != 100_000 {
		t.Fatalf("expected balance 100000, got %d", credited.BalanceMicros)
	}
}

func TestReserveAlerts_WarningThenCritical(t *testing.T) {
	svc := NewTreasuryService(memory.NewTreasuryRepository())
	// Reserve 1_000_000: warning below 1_500_000, critical below 1_000_000.
	newTestPool(t, svc, "pool_general", 2_000_000, 1_000_000)

	if _, err := svc.LockFunds(context.Background(), "pool_general", "claim_1", 600_000, time.Hour); err != nil {
		t.Fatalf("lock: %v", err)
	}

	alerts, _ := svc.ListUnacknowledgedAlerts(context.Background())
	if len(alerts) != 1 || alerts[0].Type != domain.AlertWarningLow {
		t.Fatalf("expected one WARNING_LOW alert, got %+v", alerts)
	}

	if _, err := svc.LockFunds(context.Background(), "pool_general", "claim_2", 500_000, time.Hour); err != nil {
		t.Fatalf("lock: %v", err)
	}

	alerts, _ = svc.ListUnacknowledgedAlerts(context.Background())
	types := map[domain.AlertType]int{}
	for _, alert := range alerts {
		types[alert.Type]++
	}
	if types[domain.AlertCriticalLow] != 1 {
		t.Fatalf("expected one CRITICAL_LOW alert, got %+v", alerts)
	}
}

func TestReserveAlerts_OnePerEpisode(t *testing.T) {
	svc := NewTreasuryService(memory.NewTreasuryRepository())
	newTestPool(t, svc, "pool_general", 2_000_000, 1_000_000)

	if _, err := svc.LockFunds(context.Background(), "pool_general", "claim_1", 1_200_000, time.Hour); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := svc.LockFunds(context.Background(), "pool_general", "claim_2", 100_000, time.Hour); err != nil {
		t.Fatalf("lock: %v", err)
	}

	alerts, _ := svc.ListUnacknowledgedAlerts(context.Background())
	critical := 0
	for _, alert := range alerts {
		if alert.Type == domain.AlertCriticalLow {
			critical++
		}
	}
	if critical != 1 {
		t.Fatalf("expected a single CRITICAL_LOW alert for the episode, got %d", critical)
	}

	// Acknowledging closes the episode; the next breach alerts again.
	for _, alert := range alerts {
		if alert.Type == domain.AlertCriticalLow {
			if err := svc.AcknowledgeAlert(context.Background(), alert.ID); err != nil {
				t.Fatalf("acknowledge: %v", err)
			}
		}
	}

	if _, err := svc.LockFunds(context.Background(), "pool_general", "claim_3", 100_000, time.Hour); err != nil {
		t.Fatalf("lock: %v", err)
	}

	alerts, _ = svc.ListUnacknowledgedAlerts(context.Background())
	critical = 0
	for _, alert := range alerts {
		if alert.Type == domain.AlertCriticalLow {
			critical++
		}
	}
	if critical != 1 {
		t.Fatalf("expected a fresh CRITICAL_LOW alert after acknowledgement, got %d", critical)
	}
}

func TestAcknowledgeAlert_ExactlyOnce(t *testing.T) {
	svc := NewTreasuryService(memory.NewTreasuryRepository())
	newTestPool(t, svc, "pool_general", 100, 0)

	if _, err := svc.LockFunds(context.Background(), "pool_general", "claim_1", 500, time.Hour); err == nil {
		t.Fatal("expected a liquidity failure")
	}

	alerts, _ := svc.ListUnacknowledgedAlerts(context.Background())
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}

	if err := svc.AcknowledgeAlert(context.Background(), alerts[0].ID); err != nil {
		t.Fatalf("first acknowledge: %v", err)
	}
	if err := svc.AcknowledgeAlert(context.Background(), alerts[0].ID); err == nil {
		t.Fatal("expected an error acknowledging twice")
	}
}

func TestReleaseLock_IdempotentAndFinal(t *testing.T) {
	repo := memory.NewTreasuryRepository()
	svc := NewTreasuryService(repo)
	newTestPool(t, svc, "pool_general", 1_000_000, 0)

	lock, err := svc.LockFunds(context.Background(), "pool_general", "claim_1", 300_000, time.Millisecond)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	if err := svc.ReleaseLock(context.Background(), lock.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := svc.ReleaseLock(context.Background(), lock.ID); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}

	// A released lock is settled spend: the sweep must not credit it back.
	time.Sleep(5 * time.Millisecond)
	swept, err := svc.SweepExpiredLocks(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected no sweeps of a released lock, got %d", swept)
	}

	pool, _ := svc.GetPool(context.Background(), "pool_general")
	if pool.BalanceMicros != 700_000 {
		t.Fatalf("expected balance to stay at 700000, got %d", pool.BalanceMicros)
	}
}

func TestSweepExpiredLocks_CreditsBackAndReactivates(t *testing.T) {
	svc := NewTreasuryService(memory.NewTreasuryRepository())
	newTestPool(t, svc, "pool_general", 500_000, 0)

	if _, err := svc.LockFunds(context.Background(), "pool_general", "claim_1", 500_000, time.Millisecond); err != nil {
		t.Fatalf("lock: %v", err)
	}

	pool, _ := svc.GetPool(context.Background(), "pool_general")
	if pool.Status != domain.PoolStatusDepleted {
		t.Fatalf("expected DEPLETED, got %s", pool.Status)
	}

	time.Sleep(5 * time.Millisecond)
	swept, err := svc.SweepExpiredLocks(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept lock, got %d", swept)
	}

	pool, _ = svc.GetPool(context.Background(), "pool_general")
	if pool.BalanceMicros != 500_000 {
		t.Fatalf("expected funds returned, got balance %d", pool.BalanceMicros)
	}
	if pool.Status != domain.PoolStatusActive {
		t.Fatalf("expected reactivation after sweep, got %s", pool.Status)
	}

	// Sweeping again finds nothing.
	swept, err = svc.SweepExpiredLocks(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected idempotent sweep, got %d", swept)
	}
}
