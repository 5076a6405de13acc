package services

import (
	"context"
	"errors"
	"testing"

	"github.com/parametriq/settlement-core/internal/adapter/repository/memory"
	"github.com/parametriq/settlement-core/internal/domain"
)

func captureInput(referenceID string, amountMicros int64) domain.TransactionInput {
	return domain.TransactionInput{
		Entries: []domain.EntryInput{
			{Account: domain.CoreAccountOf(domain.AccountAssetTreasury), AmountMicros: amountMicros},
			{Account: domain.CoreAccountOf(domain.AccountLiabilityReserve), AmountMicros: -amountMicros},
		},
		Currency:      "USD",
		ReferenceID:   referenceID,
		ReferenceType: domain.ReferencePaymentCapture,
		CreatedBy:     "stripe",
	}
}

func TestRecordTransaction_PostsBalancedEntries(t *testing.T) {
	repo := memory.NewLedgerRepository()
	svc := NewLedgerService(repo)

	txn, entries, err := svc.RecordTransaction(context.Background(), captureInput("evt_1", 1_250_500_000))
	if err != nil {
		t.Fatalf("record transaction: %v", err)
	}
	if txn.ID == "" {
		t.Fatal("expected a transaction id")
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	var sum int64
	for _, entry := range entries {
		sum += entry.AmountMicros
		if entry.TransactionID != txn.ID {
			t.Fatal("expected entries to carry the transaction id")
		}
	}
	if sum != 0 {
		t.Fatalf("expected entries to sum to zero, got %d", sum)
	}
}

func TestRecordTransaction_RejectsImbalance(t *testing.T) {
	svc := NewLedgerService(memory.NewLedgerRepository())

	input := captureInput("evt_2", 100)
	input.Entries[1].AmountMicros = -99

	var imbalanced *domain.ImbalancedTransactionError
	_, _, err := svc.RecordTransaction(context.Background(), input)
	if !errors.As(err, &imbalanced) {
		t.Fatalf("expected ImbalancedTransactionError, got %v", err)
	}
	if imbalanced.SumMicros != 1 {
		t.Fatalf("expected sum of 1 micro, got %d", imbalanced.SumMicros)
	}
}

func TestRecordTransaction_RejectsSingleEntry(t *testing.T) {
	svc := NewLedgerService(memory.NewLedgerRepository())

	input := domain.TransactionInput{
		Entries: []domain.EntryInput{
			{Account: domain.CoreAccountOf(domain.AccountAssetTreasury), AmountMicros: 100},
		},
		Currency:      "USD",
		ReferenceID:   "evt_3",
		ReferenceType: domain.ReferencePaymentCapture,
	}
	if _, _, err := svc.RecordTransaction(context.Background(), input); err == nil {
		t.Fatal("expected an error for a single-entry transaction")
	}
}

func TestRecordTransaction_RejectsZeroAmountLeg(t *testing.T) {
	svc := NewLedgerService(memory.NewLedgerRepository())

	input := captureInput("evt_4", 100)
	input.Entries = append(input.Entries, domain.EntryInput{
		Account: domain.CoreAccountOf(domain.AccountExpenseClaims),
	})
	if _, _, err := svc.RecordTransaction(context.Background(), input); err == nil {
		t.Fatal("expected an error for a zero-amount entry")
	}
}

func TestRecordTransaction_RejectsUnsupportedCurrency(t *testing.T) {
	svc := NewLedgerService(memory.NewLedgerRepository())

	input := captureInput("evt_5", 100)
	input.Currency = "JPY"
	if _, _, err := svc.RecordTransaction(context.Background(), input); err == nil {
		t.Fatal("expected an error for an unsupported currency")
	}
}

func TestRecordTransaction_RejectsInvalidAccount(t *testing.T) {
	svc := NewLedgerService(memory.NewLedgerRepository())

	input := captureInput("evt_6", 100)
	input.Entries[0].Account = domain.CoreAccountOf("REVENUE_PREMIUMS")

	var invalid *domain.InvalidAccountError
	_, _, err := svc.RecordTransaction(context.Background(), input)
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidAccountError, got %v", err)
	}
}

func TestRecordTransaction_DuplicateReferenceRejectedOnce(t *testing.T) {
	repo := memory.NewLedgerRepository()
	svc := NewLedgerService(repo)

	if _, _, err := svc.RecordTransaction(context.Background(), captureInput("evt_dup", 500)); err != nil {
		t.Fatalf("first record: %v", err)
	}

	var duplicate *domain.DuplicateReferenceError
	_, _, err := svc.RecordTransaction(context.Background(), captureInput("evt_dup", 500))
	if !errors.As(err, &duplicate) {
		t.Fatalf("expected DuplicateReferenceError, got %v", err)
	}
	if duplicate.ReferenceID != "evt_dup" {
		t.Fatalf("unexpected reference id %s", duplicate.ReferenceID)
	}
	if got := len(repo.Transactions()); got != 1 {
		t.Fatalf("expected 1 stored transaction, got %d", got)
	}
}

func TestRecordTransaction_AdjustmentReferencesMayRepeat(t *testing.T) {
	repo := memory.NewLedgerRepository()
	svc := NewLedgerService(repo)

	input := captureInput("adj_2026_q1", 500)
	input.ReferenceType = domain.ReferenceAdjustment

	for i := 0; i < 2; i++ {
		if _, _, err := svc.RecordTransaction(context.Background(), input); err != nil {
			t.Fatalf("adjustment %d: %v", i, err)
		}
	}
	if got := len(repo.Transactions()); got != 2 {
		t.Fatalf("expected 2 stored adjustments, got %d", got)
	}
}

func TestGetAllAccountBalances_SumToZero(t *testing.T) {
	repo := memory.NewLedgerRepository()
	svc := NewLedgerService(repo)

	if _, _, err := svc.RecordTransaction(context.Background(), captureInput("evt_a", 1_000_000)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, _, err := svc.RecordTransaction(context.Background(), captureInput("evt_b", 2_500_000)); err != nil {
		t.Fatalf("record: %v", err)
	}

	balances, err := svc.GetAllAccountBalances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}

	var total int64
	for _, balance := range balances {
		total += balance.BalanceMicros
	}
	if total != 0 {
		t.Fatalf("expected all balances to sum to zero, got %d", total)
	}

	treasury, err := svc.ComputeAccountBalance(context.Background(), domain.CoreAccountOf(domain.AccountAssetTreasury), "USD")
	if err != nil {
		t.Fatalf("compute balance: %v", err)
	}
	if treasury.BalanceMicros != 3_500_000 {
		t.Fatalf("expected treasury balance 3500000, got %d", treasury.BalanceMicros)
	}
	if treasury.EntryCount != 2 {
		t.Fatalf("expected 2 treasury entries, got %d", treasury.EntryCount)
	}
}

func TestHasClaimBeenPaid(t *testing.T) {
	repo := memory.NewLedgerRepository()
	svc := NewLedgerService(repo)

	paid, err := svc.HasClaimBeenPaid(context.Background(), "claim_9")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if paid {
		t.Fatal("expected claim_9 to be unpaid")
	}

	input := domain.TransactionInput{
		Entries: []domain.EntryInput{
			{Account: domain.CoreAccountOf(domain.AccountExpenseClaims), AmountMicros: 750_000},
			{Account: domain.CoreAccountOf(domain.AccountAssetTreasury), AmountMicros: -750_000},
		},
		Currency:      "USD",
		ReferenceID:   "claim_9",
		ReferenceType: domain.ReferenceClaim,
	}
	if _, _, err := svc.RecordTransaction(context.Background(), input); err != nil {
		t.Fatalf("record claim payout: %v", err)
	}

	paid, err = svc.HasClaimBeenPaid(context.Background(), "claim_9")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !paid {
		t.Fatal("expected claim_9 to be paid")
	}
}
