package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parametriq/settlement-core/internal/domain"
)

// LedgerRepository is an in-memory stand-in for the postgres store with the
// same atomicity and idempotency guarantees, used by tests and local runs.
type LedgerRepository struct {
	mu           sync.Mutex
	transactions []domain.LedgerTransaction
	entries      []domain.LedgerEntry
	references   map[string]struct{}
}

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{
		references: make(map[string]struct{}),
	}
}

func referenceKey(referenceID string, referenceType domain.ReferenceType) string {
	return string(referenceType) + "/" + referenceID
}

func (r *LedgerRepository) CreateTransaction(_ context.Context, txn domain.LedgerTransaction, entries []domain.LedgerEntry) (domain.LedgerTransaction, []domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if domain.IsIdempotentReference(txn.ReferenceType) {
		key := referenceKey(txn.ReferenceID, txn.ReferenceType)
		if _, exists := r.references[key]; exists {
			return domain.LedgerTransaction{}, nil, &domain.DuplicateReferenceError{
				ReferenceID:   txn.ReferenceID,
				ReferenceType: txn.ReferenceType,
			}
		}
		r.references[key] = struct{}{}
	}

	now := time.Now().UTC()
	txn.ID = uuid.NewString()
	txn.CreatedAt = now

	created := make([]domain.LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		entry.ID = uuid.NewString()
		entry.TransactionID = txn.ID
		entry.CreatedAt = now
		created = append(created, entry)
	}

	r.transactions = append(r.transactions, txn)
	r.entries = append(r.entries, created...)
	return txn, created, nil
}

func (r *LedgerRepository) ReferenceExists(_ context.Context, referenceID string, referenceType domain.ReferenceType) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, txn := range r.transactions {
		if txn.ReferenceID == referenceID && txn.ReferenceType == referenceType {
			return true, nil
		}
	}
	return false, nil
}

func (r *LedgerRepository) SumAccount(_ context.Context, account domain.Account, currency string) (domain.AccountBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	balance := domain.AccountBalance{Account: account, Currency: currency}
	for _, entry := range r.entries {
		if entry.Account != account || entry.Currency != currency {
			continue
		}
		balance.BalanceMicros += entry.AmountMicros
		balance.EntryCount++
		if !entry.CreatedAt.Before(balance.LastEntryAt) {
			balance.LastEntryAt = entry.CreatedAt
			balance.LastEntryID = entry.ID
		}
	}
	return balance, nil
}

func (r *LedgerRepository) SumAllAccounts(_ context.Context) ([]domain.AccountBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	grouped := make(map[string]*domain.AccountBalance)
	keys := make([]string, 0)
	for _, entry := range r.entries {
		key := entry.Account.String() + "/" + entry.Currency
		balance, ok := grouped[key]
		if !ok {
			balance = &domain.AccountBalance{Account: entry.Account, Currency: entry.Currency}
			grouped[key] = balance
			keys = append(keys, key)
		}
		balance.BalanceMicros += entry.AmountMicros
		balance.EntryCount++
		if !entry.CreatedAt.Before(balance.LastEntryAt) {
			balance.LastEntryAt = entry.CreatedAt
			balance.LastEntryID = entry.ID
		}
	}

	sort.Strings(keys)
	balances := make([]domain.AccountBalance, 0, len(keys))
	for _, key := range keys {
		balances = append(balances, *grouped[key])
	}
	return balances, nil
}

func (r *LedgerRepository) HasPositiveEntry(_ context.Context, account domain.Account, referenceID string, referenceType domain.ReferenceType) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		if entry.Account == account && entry.ReferenceID == referenceID && entry.ReferenceType == referenceType && entry.AmountMicros > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Transactions returns a snapshot for test assertions.
func (r *LedgerRepository) Transactions() []domain.LedgerTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.LedgerTransaction, len(r.transactions))
	copy(out, r.transactions)
	return out
}

// Entries returns a snapshot for test assertions.
func (r *LedgerRepository) Entries() []domain.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.LedgerEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
