package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/parametriq/settlement-core/internal/adapter/remoteledger"
	"github.com/parametriq/settlement-core/internal/adapter/repository/memory"
	"github.com/parametriq/settlement-core/internal/commons"
	"github.com/parametriq/settlement-core/internal/domain"
	"github.com/parametriq/settlement-core/internal/usecase/service_interfaces"
)

type stubExecutor struct {
	calls  int
	err    error
	result *service_interfaces.PayoutResult
}

func (e *stubExecutor) Execute(_ context.Context, _ string, _ int64, _, _ string) (service_interfaces.PayoutResult, error) {
	e.calls++
	if e.err != nil {
		return service_interfaces.PayoutResult{}, e.err
	}
	if e.result != nil {
		return *e.result, nil
	}
	return service_interfaces.PayoutResult{Success: true}, nil
}

type settlementFixture struct {
	remote     *remoteledger.MemoryLog
	ledgerRepo *memory.LedgerRepository
	ledger     *LedgerService
	treasury   *TreasuryService
	executor   *stubExecutor
	service    *SettlementService
}

func newSettlementFixture(t *testing.T, poolBalanceMicros, approvalThresholdMicros int64) *settlementFixture {
	t.Helper()

	remote := remoteledger.NewMemoryLog()
	ledgerRepo := memory.NewLedgerRepository()
	ledger := NewLedgerService(ledgerRepo)
	treasury := NewTreasuryService(memory.NewTreasuryRepository())
	executor := &stubExecutor{}

	if _, err := treasury.CreatePool(context.Background(), domain.LiquidityPool{
		ID:            "pool_general_reserve",
		Name:          "General Reserve",
		Currency:      "USD",
		BalanceMicros: poolBalanceMicros,
	}); err != nil {
		t.Fatalf("create pool: %v", err)
	}

	service := NewSettlementService(remote, ledger, treasury, executor,
		"settlement-core", "pool_general_reserve", time.Hour, approvalThresholdMicros)

	return &settlementFixture{
		remote:     remote,
		ledgerRepo: ledgerRepo,
		ledger:     ledger,
		treasury:   treasury,
		executor:   executor,
		service:    service,
	}
}

func (f *settlementFixture) appendAuthorization(t *testing.T, eventID, claimID string, amountMicros int64) {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"claimId":      claimID,
		"policyId":     "policy_1",
		"amountMicros": amountMicros,
		"currency":     "USD",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	if _, err := f.remote.Append(context.Background(), remoteledger.Event{
		ID:            eventID,
		EventType:     remoteledger.EventClaimPayoutAuthorized,
		SchemaVersion: remoteledger.SchemaVersion,
		Producer:      "claims-core",
		Subject:       claimID,
		Payload:       payload,
	}); err != nil {
		t.Fatalf("append authorization: %v", err)
	}
}

func TestDeterministicTransactionRef(t *testing.T) {
	got := DeterministicTransactionRef("claim_7", "auth_eve_0042")
	if got != "txn_claim_7_auth_eve" {
		t.Fatalf("expected txn_claim_7_auth_eve, got %s", got)
	}
	if again := DeterministicTransactionRef("claim_7", "auth_eve_0042"); again != got {
		t.Fatalf("expected a stable reference, got %s then %s", got, again)
	}
}

func TestRunCycle_ExecutesAuthorizedPayout(t *testing.T) {
	f := newSettlementFixture(t, 10_000_000, 0)
	f.appendAuthorization(t, "auth_eve_0042", "claim_7", 2_000_000)

	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if f.executor.calls != 1 {
		t.Fatalf("expected 1 execution, got %d", f.executor.calls)
	}
	if got := f.remote.CountByType(remoteledger.EventCapitalPayoutExecuted); got != 1 {
		t.Fatalf("expected 1 executed event, got %d", got)
	}

	expense, err := f.ledger.ComputeAccountBalance(context.Background(), domain.CoreAccountOf(domain.AccountExpenseClaims), "USD")
	if err != nil {
		t.Fatalf("expense balance: %v", err)
	}
	if expense.BalanceMicros != 2_000_000 {
		t.Fatalf("expected expense balance 2000000, got %d", expense.BalanceMicros)
	}
	asset, err := f.ledger.ComputeAccountBalance(context.Background(), domain.CoreAccountOf(domain.AccountAssetTreasury), "USD")
	if err != nil {
		t.Fatalf("asset balance: %v", err)
	}
	if asset.BalanceMicros != -2_000_000 {
		t.Fatalf("expected asset balance -2000000, got %d", asset.BalanceMicros)
	}

	payouts := f.service.Payouts()
	if len(payouts) != 1 {
		t.Fatalf("expected 1 payout record, got %d", len(payouts))
	}
	if payouts[0].Status != domain.PayoutStatusCleared {
		t.Fatalf("expected CLEARED, got %s", payouts[0].Status)
	}
	if payouts[0].TransactionRef != "txn_claim_7_auth_eve" {
		t.Fatalf("unexpected transaction ref %s", payouts[0].TransactionRef)
	}
	if f.service.Cursor() != 1 {
		t.Fatalf("expected cursor 1, got %d", f.service.Cursor())
	}
}

func TestRunCycle_ReplayIsExactlyOnce(t *testing.T) {
	f := newSettlementFixture(t, 10_000_000, 0)
	f.appendAuthorization(t, "auth_eve_0042", "claim_7", 2_000_000)

	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	// A duplicate authorization for the same claim must be absorbed by the
	// consequence gate even though it carries a fresh sequence.
	f.appendAuthorization(t, "auth_eve_retry", "claim_7", 2_000_000)
	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("third cycle: %v", err)
	}

	if f.executor.calls != 1 {
		t.Fatalf("expected exactly one execution, got %d", f.executor.calls)
	}
	if got := f.remote.CountByType(remoteledger.EventCapitalPayoutExecuted); got != 1 {
		t.Fatalf("expected exactly one executed event, got %d", got)
	}

	expense, _ := f.ledger.ComputeAccountBalance(context.Background(), domain.CoreAccountOf(domain.AccountExpenseClaims), "USD")
	if expense.BalanceMicros != 2_000_000 {
		t.Fatalf("expected a single posting, balance %d", expense.BalanceMicros)
	}
}

func TestRunCycle_InsufficientLiquidityFailsTerminally(t *testing.T) {
	f := newSettlementFixture(t, 1_000_000, 0)
	f.appendAuthorization(t, "auth_1", "claim_big", 5_000_000)

	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if f.executor.calls != 0 {
		t.Fatalf("expected no execution, got %d", f.executor.calls)
	}
	if got := f.remote.CountByType(remoteledger.EventCapitalPayoutFailed); got != 1 {
		t.Fatalf("expected 1 failed event, got %d", got)
	}

	payouts := f.service.Payouts()
	if len(payouts) != 1 || payouts[0].Status != domain.PayoutStatusFailed {
		t.Fatalf("expected FAILED payout, got %+v", payouts)
	}
	if payouts[0].FailureCode != failureCodeInsufficientLiquidity {
		t.Fatalf("unexpected failure code %s", payouts[0].FailureCode)
	}

	alerts, _ := f.treasury.ListUnacknowledgedAlerts(context.Background())
	if len(alerts) != 1 || alerts[0].Type != domain.AlertLiquidityFailure {
		t.Fatalf("expected a LIQUIDITY_FAILURE alert, got %+v", alerts)
	}

	// Replaying never retries a terminal failure.
	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("replay cycle: %v", err)
	}
	if got := f.remote.CountByType(remoteledger.EventCapitalPayoutFailed); got != 1 {
		t.Fatalf("expected failed event count to stay at 1, got %d", got)
	}
}

func TestRunCycle_ExecutorErrorIsTerminal(t *testing.T) {
	f := newSettlementFixture(t, 10_000_000, 0)
	f.executor.err = fmt.Errorf("rail timeout")
	f.appendAuthorization(t, "auth_1", "claim_1", 1_000_000)

	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if got := f.remote.CountByType(remoteledger.EventCapitalPayoutFailed); got != 1 {
		t.Fatalf("expected 1 failed event, got %d", got)
	}
	payouts := f.service.Payouts()
	if payouts[0].FailureCode != failureCodeExecutionError {
		t.Fatalf("unexpected failure code %s", payouts[0].FailureCode)
	}

	// The claim is settled as failed; a healthy executor must not be invoked
	// again for it.
	f.executor.err = nil
	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("replay cycle: %v", err)
	}
	if f.executor.calls != 1 {
		t.Fatalf("expected no retry after terminal failure, calls %d", f.executor.calls)
	}

	// The lock stays for the sweep; no ledger posting happened.
	expense, _ := f.ledger.ComputeAccountBalance(context.Background(), domain.CoreAccountOf(domain.AccountExpenseClaims), "USD")
	if expense.BalanceMicros != 0 {
		t.Fatalf("expected no payout posting, balance %d", expense.BalanceMicros)
	}
	if _, err := f.treasury.ActiveLockForClaim(context.Background(), "claim_1"); err != nil {
		t.Fatalf("expected the lock to remain for the sweep: %v", err)
	}
}

func TestRunCycle_RailRejectionUsesReportedCode(t *testing.T) {
	f := newSettlementFixture(t, 10_000_000, 0)
	f.executor.result = &service_interfaces.PayoutResult{
		Success:       false,
		FailureCode:   "ACCOUNT_CLOSED",
		FailureReason: "recipient account closed",
	}
	f.appendAuthorization(t, "auth_1", "claim_1", 1_000_000)

	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	payouts := f.service.Payouts()
	if payouts[0].FailureCode != "ACCOUNT_CLOSED" {
		t.Fatalf("unexpected failure code %s", payouts[0].FailureCode)
	}
}

func TestRunCycle_MalformedEventSkippedAndCursorAdvances(t *testing.T) {
	f := newSettlementFixture(t, 10_000_000, 0)

	if _, err := f.remote.Append(context.Background(), remoteledger.Event{
		ID:        "auth_bad",
		EventType: remoteledger.EventClaimPayoutAuthorized,
		Subject:   "claim_bad",
		Payload:   json.RawMessage(`{"claimId":"claim_bad","amountMicros":-5,"currency":"USD"}`),
	}); err != nil {
		t.Fatalf("append malformed: %v", err)
	}
	f.appendAuthorization(t, "auth_ok", "claim_ok", 1_000_000)

	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if f.executor.calls != 1 {
		t.Fatalf("expected only the valid event executed, got %d calls", f.executor.calls)
	}
	if f.service.Cursor() != 2 {
		t.Fatalf("expected cursor past both authorization events, got %d", f.service.Cursor())
	}
	if got := f.remote.CountByType(remoteledger.EventCapitalPayoutFailed); got != 0 {
		t.Fatalf("malformed events must not produce consequences, got %d", got)
	}
}

func TestRunCycle_TransientPollFailureKeepsCursor(t *testing.T) {
	f := newSettlementFixture(t, 10_000_000, 0)
	f.appendAuthorization(t, "auth_1", "claim_1", 1_000_000)

	flaky := &flakyRemote{MemoryLog: f.remote, failures: 1}
	service := NewSettlementService(flaky, f.ledger, f.treasury, f.executor,
		"settlement-core", "pool_general_reserve", time.Hour, 0)

	if err := service.RunCycle(context.Background()); err == nil {
		t.Fatal("expected the transient failure to surface")
	}
	if service.Cursor() != 0 {
		t.Fatalf("expected cursor unchanged after a failed cycle, got %d", service.Cursor())
	}

	if err := service.RunCycle(context.Background()); err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	if f.executor.calls != 1 {
		t.Fatalf("expected the event handled after recovery, got %d calls", f.executor.calls)
	}
}

type flakyRemote struct {
	*remoteledger.MemoryLog
	failures int
}

func (f *flakyRemote) ListEvents(ctx context.Context, eventType string, afterSequence int64) ([]remoteledger.Event, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("remote ledger unavailable")
	}
	return f.MemoryLog.ListEvents(ctx, eventType, afterSequence)
}

func TestRunCycle_CrashRecoveryCompletesWriteBack(t *testing.T) {
	f := newSettlementFixture(t, 10_000_000, 0)

	// Simulate a crash after the ledger posting committed but before the
	// consequence event reached the remote log.
	if _, _, err := f.ledger.RecordTransaction(context.Background(), domain.TransactionInput{
		Entries: []domain.EntryInput{
			{Account: domain.CoreAccountOf(domain.AccountExpenseClaims), AmountMicros: 1_000_000},
			{Account: domain.CoreAccountOf(domain.AccountAssetTreasury), AmountMicros: -1_000_000},
		},
		Currency:      "USD",
		ReferenceID:   "claim_1",
		ReferenceType: domain.ReferenceClaim,
	}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	f.appendAuthorization(t, "auth_abc_123", "claim_1", 1_000_000)

	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if f.executor.calls != 0 {
		t.Fatalf("expected no re-execution during write-back, got %d", f.executor.calls)
	}
	if got := f.remote.CountByType(remoteledger.EventCapitalPayoutExecuted); got != 1 {
		t.Fatalf("expected the executed event written back, got %d", got)
	}

	expense, _ := f.ledger.ComputeAccountBalance(context.Background(), domain.CoreAccountOf(domain.AccountExpenseClaims), "USD")
	if expense.BalanceMicros != 1_000_000 {
		t.Fatalf("expected no double posting, balance %d", expense.BalanceMicros)
	}
}

func TestRunCycle_WriteBackReleasesLock(t *testing.T) {
	f := newSettlementFixture(t, 10_000_000, 0)

	// Crash scenario: the funds were locked and the ledger posting committed,
	// but the consequence event never reached the remote log.
	if _, err := f.treasury.LockFunds(context.Background(), "pool_general_reserve", "claim_1", 1_000_000, time.Millisecond); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	if _, _, err := f.ledger.RecordTransaction(context.Background(), domain.TransactionInput{
		Entries: []domain.EntryInput{
			{Account: domain.CoreAccountOf(domain.AccountExpenseClaims), AmountMicros: 1_000_000},
			{Account: domain.CoreAccountOf(domain.AccountAssetTreasury), AmountMicros: -1_000_000},
		},
		Currency:      "USD",
		ReferenceID:   "claim_1",
		ReferenceType: domain.ReferenceClaim,
	}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	f.appendAuthorization(t, "auth_abc_123", "claim_1", 1_000_000)

	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if _, err := f.treasury.ActiveLockForClaim(context.Background(), "claim_1"); !errors.Is(err, commons.ErrRecordNotFound) {
		t.Fatalf("expected the lock released by the write-back, got %v", err)
	}

	// The spend settled, so the expiry sweep must not credit it back.
	time.Sleep(5 * time.Millisecond)
	swept, err := f.treasury.SweepExpiredLocks(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected nothing to sweep, got %d", swept)
	}
	pool, err := f.treasury.GetPool(context.Background(), "pool_general_reserve")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.BalanceMicros != 9_000_000 {
		t.Fatalf("expected pool balance 9000000 after settlement, got %d", pool.BalanceMicros)
	}
}

type flakyAppendRemote struct {
	*remoteledger.MemoryLog
	failures int
}

func (f *flakyAppendRemote) Append(ctx context.Context, ev remoteledger.Event) (remoteledger.Event, error) {
	if f.failures > 0 {
		f.failures--
		return remoteledger.Event{}, errors.New("remote ledger unavailable")
	}
	return f.MemoryLog.Append(ctx, ev)
}

func TestRunCycle_ApprovedPayoutSurvivesTransientAppendFailure(t *testing.T) {
	f := newSettlementFixture(t, 100_000_000, 1_000_000)
	flaky := &flakyAppendRemote{MemoryLog: f.remote, failures: 1}
	service := NewSettlementService(flaky, f.ledger, f.treasury, f.executor,
		"settlement-core", "pool_general_reserve", time.Hour, 1_000_000)

	f.appendAuthorization(t, "auth_big", "claim_big", 5_000_000)

	if err := service.RunCycle(context.Background()); err != nil {
		t.Fatalf("parking cycle: %v", err)
	}
	if err := service.ApprovePayout("claim_big"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// The consequence append fails once; the claim must stay approved so the
	// next cycle finishes it instead of stranding it forever.
	if err := service.RunCycle(context.Background()); err == nil {
		t.Fatal("expected the transient append failure to surface")
	}
	if err := service.RunCycle(context.Background()); err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}

	if f.executor.calls != 1 {
		t.Fatalf("expected exactly one execution across the retry, got %d", f.executor.calls)
	}
	if got := f.remote.CountByType(remoteledger.EventCapitalPayoutExecuted); got != 1 {
		t.Fatalf("expected exactly one executed event, got %d", got)
	}
	payouts := service.Payouts()
	if len(payouts) != 1 || payouts[0].Status != domain.PayoutStatusCleared {
		t.Fatalf("expected CLEARED, got %+v", payouts)
	}
	expense, _ := f.ledger.ComputeAccountBalance(context.Background(), domain.CoreAccountOf(domain.AccountExpenseClaims), "USD")
	if expense.BalanceMicros != 5_000_000 {
		t.Fatalf("expected a single posting, balance %d", expense.BalanceMicros)
	}

	// The hold is gone once the claim settles.
	if err := service.ApprovePayout("claim_big"); !errors.Is(err, commons.ErrRecordNotFound) {
		t.Fatalf("expected the hold cleared, got %v", err)
	}
}

func TestRunCycle_ManualReviewHoldsUntilApproved(t *testing.T) {
	f := newSettlementFixture(t, 100_000_000, 1_000_000)
	f.appendAuthorization(t, "auth_big", "claim_big", 5_000_000)

	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if f.executor.calls != 0 {
		t.Fatalf("expected no execution while parked, got %d", f.executor.calls)
	}
	payouts := f.service.Payouts()
	if len(payouts) != 1 || payouts[0].Status != domain.PayoutStatusManualReview {
		t.Fatalf("expected MANUAL_REVIEW, got %+v", payouts)
	}

	if err := f.service.ApprovePayout("claim_unknown"); err == nil {
		t.Fatal("expected an error approving an unknown claim")
	}
	if err := f.service.ApprovePayout("claim_big"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("post-approval cycle: %v", err)
	}

	if f.executor.calls != 1 {
		t.Fatalf("expected execution after approval, got %d", f.executor.calls)
	}
	payouts = f.service.Payouts()
	if payouts[0].Status != domain.PayoutStatusCleared {
		t.Fatalf("expected CLEARED after approval, got %s", payouts[0].Status)
	}
}

func TestRunCycle_BelowThresholdSkipsReview(t *testing.T) {
	f := newSettlementFixture(t, 100_000_000, 10_000_000)
	f.appendAuthorization(t, "auth_small", "claim_small", 2_000_000)

	if err := f.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if f.executor.calls != 1 {
		t.Fatalf("expected direct execution below the threshold, got %d", f.executor.calls)
	}
}
