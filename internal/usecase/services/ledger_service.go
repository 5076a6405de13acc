package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/parametriq/settlement-core/internal/adapter/repository/repo_interfaces"
	"github.com/parametriq/settlement-core/internal/domain"
	"github.com/parametriq/settlement-core/internal/logger"
)

// LedgerService is the accounting engine: it validates and commits balanced
// transactions and serves derived balance reads.
type LedgerService struct {
	ledgerRepo repo_interfaces.LedgerRepository
}

func NewLedgerService(ledgerRepo repo_interfaces.LedgerRepository) *LedgerService {
	return &LedgerService{ledgerRepo: ledgerRepo}
}

func (s *LedgerService) RecordTransaction(ctx context.Context, input domain.TransactionInput) (domain.LedgerTransaction, []domain.LedgerEntry, error) {
	logger.Info("ledger service record transaction", logger.Fields{
		"referenceId":   input.ReferenceID,
		"referenceType": input.ReferenceType,
		"currency":      input.Currency,
		"entryCount":    len(input.Entries),
	})

	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	input.ReferenceID = strings.TrimSpace(input.ReferenceID)

	if err := validateTransactionInput(input); err != nil {
		logger.Error("ledger service record transaction validation failed", err, logger.Fields{
			"referenceId": input.ReferenceID,
		})
		return domain.LedgerTransaction{}, nil, err
	}

	// Query-before-write duplicate gate. The partial unique index on
	// (reference_id, reference_type) closes the race between this check
	// and the insert.
	if domain.IsIdempotentReference(input.ReferenceType) {
		exists, err := s.ledgerRepo.ReferenceExists(ctx, input.ReferenceID, input.ReferenceType)
		if err != nil {
			return domain.LedgerTransaction{}, nil, err
		}
		if exists {
			duplicate := &domain.DuplicateReferenceError{
				ReferenceID:   input.ReferenceID,
				ReferenceType: input.ReferenceType,
			}
			logger.Info("ledger service duplicate reference rejected", logger.Fields{
				"referenceId":   input.ReferenceID,
				"referenceType": input.ReferenceType,
			})
			return domain.LedgerTransaction{}, nil, duplicate
		}
	}

	txn := domain.LedgerTransaction{
		Description:   strings.TrimSpace(input.Description),
		Currency:      input.Currency,
		ReferenceID:   input.ReferenceID,
		ReferenceType: input.ReferenceType,
		CreatedBy:     strings.TrimSpace(input.CreatedBy),
	}

	entries := make([]domain.LedgerEntry, 0, len(input.Entries))
	for _, leg := range input.Entries {
		var memo *string
		if trimmed := strings.TrimSpace(leg.Memo); trimmed != "" {
			memo = &trimmed
		}
		entries = append(entries, domain.LedgerEntry{
			Account:       leg.Account,
			AmountMicros:  leg.AmountMicros,
			Currency:      input.Currency,
			ReferenceID:   input.ReferenceID,
			ReferenceType: input.ReferenceType,
			Memo:          memo,
		})
	}

	createdTxn, createdEntries, err := s.ledgerRepo.CreateTransaction(ctx, txn, entries)
	if err != nil {
		var duplicate *domain.DuplicateReferenceError
		if errors.As(err, &duplicate) {
			return domain.LedgerTransaction{}, nil, duplicate
		}
		if isUniqueViolation(err) {
			return domain.LedgerTransaction{}, nil, &domain.DuplicateReferenceError{
				ReferenceID:   input.ReferenceID,
				ReferenceType: input.ReferenceType,
			}
		}
		logger.Error("ledger service record transaction repository failed", err, logger.Fields{
			"referenceId": input.ReferenceID,
		})
		return domain.LedgerTransaction{}, nil, err
	}

	logger.Info("ledger service record transaction success", logger.Fields{
		"transactionId": createdTxn.ID,
		"referenceId":   createdTxn.ReferenceID,
	})
	return createdTxn, createdEntries, nil
}

func (s *LedgerService) ComputeAccountBalance(ctx context.Context, account domain.Account, currency string) (domain.AccountBalance, error) {
	if err := account.Validate(); err != nil {
		return domain.AccountBalance{}, err
	}
	return s.ledgerRepo.SumAccount(ctx, account, strings.ToUpper(strings.TrimSpace(currency)))
}

func (s *LedgerService) GetAllAccountBalances(ctx context.Context) ([]domain.AccountBalance, error) {
	return s.ledgerRepo.SumAllAccounts(ctx)
}

// HasClaimBeenPaid is the settlement probe: a claim counts as paid once a
// positive EXPENSE_CLAIMS entry exists under its claim reference.
func (s *LedgerService) HasClaimBeenPaid(ctx context.Context, claimID string) (bool, error) {
	return s.ledgerRepo.HasPositiveEntry(
		ctx,
		domain.CoreAccountOf(domain.AccountExpenseClaims),
		strings.TrimSpace(claimID),
		domain.ReferenceClaim,
	)
}

func validateTransactionInput(input domain.TransactionInput) error {
	if len(input.Entries) < 2 {
		return fmt.Errorf("a transaction requires at least two entries")
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if !domain.IsSupportedCurrency(currency) {
		return fmt.Errorf("unsupported currency %q", input.Currency)
	}

	for _, leg := range input.Entries {
		if err := leg.Account.Validate(); err != nil {
			return err
		}
		if leg.AmountMicros == 0 {
			return fmt.Errorf("entry for account %s must have a non-zero amount", leg.Account.String())
		}
	}

	if sum := sumEntries(input.Entries); sum != 0 {
		return &domain.ImbalancedTransactionError{SumMicros: sum}
	}

	if strings.TrimSpace(input.ReferenceID) == "" {
		return fmt.Errorf("reference id is required")
	}
	return nil
}

func sumEntries(entries []domain.EntryInput) int64 {
	var sum int64
	for _, leg := range entries {
		sum += leg.AmountMicros
	}
	return sum
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == "23505"
	}
	return false
}
