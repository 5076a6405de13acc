package repo_interfaces

import (
	"context"

	"github.com/parametriq/settlement-core/internal/domain"
)

// LedgerRepository is the append-only store for balanced transactions and
// their entries. CreateTransaction is the only write path that can move
// money and must be all-or-nothing: a failure leaves zero rows visible.
type LedgerRepository interface {
	CreateTransaction(ctx context.Context, txn domain.LedgerTransaction, entries []domain.LedgerEntry) (domain.LedgerTransaction, []domain.LedgerEntry, error)
	ReferenceExists(ctx context.Context, referenceID string, referenceType domain.ReferenceType) (bool, error)
	SumAccount(ctx context.Context, account domain.Account, currency string) (domain.AccountBalance, error)
	SumAllAccounts(ctx context.Context) ([]domain.AccountBalance, error)
	HasPositiveEntry(ctx context.Context, account domain.Account, referenceID string, referenceType domain.ReferenceType) (bool, error)
}
