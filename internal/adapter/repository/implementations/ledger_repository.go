package implementations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parametriq/settlement-core/internal/domain"
	"github.com/parametriq/settlement-core/internal/logger"
)

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// CreateTransaction persists the transaction header and all of its entries
// inside one database transaction. A failure on any statement rolls the
// whole posting back, so a reader can never observe a partial transaction.
func (r *LedgerRepository) CreateTransaction(ctx context.Context, txn domain.LedgerTransaction, entries []domain.LedgerEntry) (domain.LedgerTransaction, []domain.LedgerEntry, error) {
	logger.Info("ledger repository create transaction", logger.Fields{
		"referenceId":   txn.ReferenceID,
		"referenceType": txn.ReferenceType,
		"currency":      txn.Currency,
		"entryCount":    len(entries),
	})

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("ledger repository begin tx failed", err, nil)
		return domain.LedgerTransaction{}, nil, fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertTransaction = `
INSERT INTO ledger_transactions (
	description,
	currency,
	reference_id,
	reference_type,
	created_by
) VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`

	var (
		txnID     string
		createdAt time.Time
	)
	if err = tx.QueryRowContext(
		ctx,
		insertTransaction,
		txn.Description,
		txn.Currency,
		txn.ReferenceID,
		txn.ReferenceType,
		txn.CreatedBy,
	).Scan(&txnID, &createdAt); err != nil {
		logger.Error("ledger repository insert transaction failed", err, logger.Fields{
			"referenceId":   txn.ReferenceID,
			"referenceType": txn.ReferenceType,
		})
		return domain.LedgerTransaction{}, nil, fmt.Errorf("insert ledger transaction: %w", err)
	}

	txn.ID = txnID
	txn.CreatedAt = createdAt

	const insertEntry = `
INSERT INTO ledger_entries (
	transaction_id,
	account,
	amount_micros,
	currency,
	reference_id,
	reference_type,
	memo
) VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at`

	created := make([]domain.LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		var (
			entryID        string
			entryCreatedAt time.Time
		)
		if err = tx.QueryRowContext(
			ctx,
			insertEntry,
			txnID,
			entry.Account.String(),
			entry.AmountMicros,
			entry.Currency,
			entry.ReferenceID,
			entry.ReferenceType,
			entryMemo(entry.Memo),
		).Scan(&entryID, &entryCreatedAt); err != nil {
			logger.Error("ledger repository insert entry failed", err, logger.Fields{
				"transactionId": txnID,
				"account":       entry.Account.String(),
			})
			return domain.LedgerTransaction{}, nil, fmt.Errorf("insert ledger entry: %w", err)
		}

		entry.ID = entryID
		entry.TransactionID = txnID
		entry.CreatedAt = entryCreatedAt
		created = append(created, entry)
	}

	if err = tx.Commit(); err != nil {
		logger.Error("ledger repository commit tx failed", err, logger.Fields{
			"transactionId": txnID,
		})
		return domain.LedgerTransaction{}, nil, fmt.Errorf("commit ledger transaction: %w", err)
	}

	logger.Info("ledger repository create transaction success", logger.Fields{
		"transactionId": txn.ID,
		"entryCount":    len(created),
	})
	return txn, created, nil
}

// entryMemo maps an absent memo to the empty string. The memo column is NOT
// NULL; an explicit SQL NULL would bypass its default and fail the insert,
// rolling back the whole posting.
func entryMemo(memo *string) string {
	if memo == nil {
		return ""
	}
	return *memo
}

func (r *LedgerRepository) ReferenceExists(ctx context.Context, referenceID string, referenceType domain.ReferenceType) (bool, error) {
	const query = `
SELECT EXISTS (
	SELECT 1
	FROM ledger_transactions
	WHERE reference_id = $1
	  AND reference_type = $2
)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, referenceID, referenceType).Scan(&exists); err != nil {
		logger.Error("ledger repository reference exists failed", err, logger.Fields{
			"referenceId":   referenceID,
			"referenceType": referenceType,
		})
		return false, fmt.Errorf("check ledger reference: %w", err)
	}
	return exists, nil
}

func (r *LedgerRepository) SumAccount(ctx context.Context, account domain.Account, currency string) (domain.AccountBalance, error) {
	const sumQuery = `
SELECT COALESCE(SUM(amount_micros), 0), COUNT(*)
FROM ledger_entries
WHERE account = $1
  AND currency = $2`

	balance := domain.AccountBalance{Account: account, Currency: currency}
	if err := r.db.QueryRowContext(ctx, sumQuery, account.String(), currency).Scan(&balance.BalanceMicros, &balance.EntryCount); err != nil {
		logger.Error("ledger repository sum account failed", err, logger.Fields{
			"account":  account.String(),
			"currency": currency,
		})
		return domain.AccountBalance{}, fmt.Errorf("sum account: %w", err)
	}

	if balance.EntryCount == 0 {
		return balance, nil
	}

	const latestQuery = `
SELECT id, created_at
FROM ledger_entries
WHERE account = $1
  AND currency = $2
ORDER BY created_at DESC, id DESC
LIMIT 1`

	if err := r.db.QueryRowContext(ctx, latestQuery, account.String(), currency).Scan(&balance.LastEntryID, &balance.LastEntryAt); err != nil {
		logger.Error("ledger repository latest entry failed", err, logger.Fields{
			"account":  account.String(),
			"currency": currency,
		})
		return domain.AccountBalance{}, fmt.Errorf("latest account entry: %w", err)
	}

	return balance, nil
}

func (r *LedgerRepository) SumAllAccounts(ctx context.Context) ([]domain.AccountBalance, error) {
	const query = `
SELECT DISTINCT ON (account, currency)
	account,
	currency,
	SUM(amount_micros) OVER (PARTITION BY account, currency),
	COUNT(*) OVER (PARTITION BY account, currency),
	id,
	created_at
FROM ledger_entries
ORDER BY account, currency, created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		logger.Error("ledger repository sum all accounts failed", err, nil)
		return nil, fmt.Errorf("sum all accounts: %w", err)
	}
	defer rows.Close()

	balances := make([]domain.AccountBalance, 0)
	for rows.Next() {
		var (
			balance    domain.AccountBalance
			rawAccount string
		)
		if err := rows.Scan(&rawAccount, &balance.Currency, &balance.BalanceMicros, &balance.EntryCount, &balance.LastEntryID, &balance.LastEntryAt); err != nil {
			return nil, fmt.Errorf("scan account balance: %w", err)
		}
		account, err := domain.ParseAccount(rawAccount)
		if err != nil {
			return nil, fmt.Errorf("parse stored account %q: %w", rawAccount, err)
		}
		balance.Account = account
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account balances: %w", err)
	}

	return balances, nil
}

func (r *LedgerRepository) HasPositiveEntry(ctx context.Context, account domain.Account, referenceID string, referenceType domain.ReferenceType) (bool, error) {
	const query = `
SELECT EXISTS (
	SELECT 1
	FROM ledger_entries
	WHERE account = $1
	  AND reference_id = $2
	  AND reference_type = $3
	  AND amount_micros > 0
)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, account.String(), referenceID, referenceType).Scan(&exists); err != nil {
		logger.Error("ledger repository has positive entry failed", err, logger.Fields{
			"account":     account.String(),
			"referenceId": referenceID,
		})
		return false, fmt.Errorf("check positive entry: %w", err)
	}
	return exists, nil
}
