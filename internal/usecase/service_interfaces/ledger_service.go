package service_interfaces

import (
	"context"

	"github.com/parametriq/settlement-core/internal/domain"
)

type LedgerService interface {
	RecordTransaction(ctx context.Context, input domain.TransactionInput) (domain.LedgerTransaction, []domain.LedgerEntry, error)
	ComputeAccountBalance(ctx context.Context, account domain.Account, currency string) (domain.AccountBalance, error)
	GetAllAccountBalances(ctx context.Context) ([]domain.AccountBalance, error)
	HasClaimBeenPaid(ctx context.Context, claimID string) (bool, error)
}
