package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parametriq/settlement-core/internal/adapter/http/models"
	"github.com/parametriq/settlement-core/internal/commons"
	"github.com/parametriq/settlement-core/internal/domain"
	"github.com/parametriq/settlement-core/internal/logger"
	"github.com/parametriq/settlement-core/internal/usecase/service_interfaces"
)

// RemittanceService accepts pool-scoped credits from authorized source
// systems, posting them to the ledger and keeping the pool balance cache
// consistent with the pool's liability account.
type RemittanceService struct {
	ledger   service_interfaces.LedgerService
	treasury service_interfaces.TreasuryService
}

func NewRemittanceService(ledger service_interfaces.LedgerService, treasury service_interfaces.TreasuryService) *RemittanceService {
	return &RemittanceService{ledger: ledger, treasury: treasury}
}

func (s *RemittanceService) SubmitRemittance(ctx context.Context, req models.RemittanceRequest) (commons.Response[models.RemittanceResponse], error) {
	logger.Info("remittance service submit request", logger.Fields{
		"payload": logger.SanitizePayload(req),
	})

	if err := req.Validate(); err != nil {
		return commons.ErrorResponse[models.RemittanceResponse]("validation failed", err.Error()), err
	}

	remittanceID := strings.TrimSpace(req.RemittanceID)
	poolID := strings.TrimSpace(req.PoolID)
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	amountMicros := domain.MicrosFromDecimal(req.Amount)

	pool, err := s.treasury.GetPool(ctx, poolID)
	if err != nil {
		if errors.Is(err, commons.ErrRecordNotFound) {
			return commons.ErrorResponse[models.RemittanceResponse]("Pool not found"), err
		}
		return commons.ErrorResponse[models.RemittanceResponse]("failed to process remittance", "Unable to process remittance right now"), err
	}

	if !strings.EqualFold(pool.Currency, currency) {
		err := fmt.Errorf("currency does not match pool currency")
		return commons.ErrorResponse[models.RemittanceResponse]("validation failed", err.Error()), err
	}

	txn, _, err := s.ledger.RecordTransaction(ctx, domain.TransactionInput{
		Entries: []domain.EntryInput{
			{Account: domain.CoreAccountOf(domain.AccountAssetTreasury), AmountMicros: amountMicros, Memo: strings.TrimSpace(req.Memo)},
			{Account: domain.PoolAccount(poolID), AmountMicros: -amountMicros},
		},
		Currency:      currency,
		ReferenceID:   remittanceID,
		ReferenceType: domain.ReferenceRemittance,
		Description:   "remittance from " + strings.ToUpper(strings.TrimSpace(req.Source)),
		CreatedBy:     strings.ToUpper(strings.TrimSpace(req.Source)),
	})
	if err != nil {
		var duplicate *domain.DuplicateReferenceError
		if errors.As(err, &duplicate) {
			logger.Info("remittance service duplicate submission accepted", logger.Fields{
				"remittanceId": remittanceID,
			})
			response := models.RemittanceResponse{
				RemittanceID:      remittanceID,
				PoolID:            poolID,
				AmountMicros:      amountMicros,
				Currency:          currency,
				PoolBalanceMicros: pool.BalanceMicros,
				Status:            "ALREADY_RECORDED",
			}
			return commons.NoOpResponse("Remittance already recorded", response), nil
		}
		logger.Error("remittance service record transaction failed", err, logger.Fields{
			"remittanceId": remittanceID,
		})
		return commons.ErrorResponse[models.RemittanceResponse]("failed to process remittance", "Unable to process remittance right now"), err
	}

	credited, err := s.treasury.CreditPool(ctx, poolID, amountMicros)
	if err != nil {
		logger.Error("remittance service credit pool failed", err, logger.Fields{
			"remittanceId": remittanceID,
			"poolId":       poolID,
		})
		return commons.ErrorResponse[models.RemittanceResponse]("failed to process remittance", "Remittance recorded but pool update failed"), err
	}

	response := models.RemittanceResponse{
		TransactionID:     txn.ID,
		RemittanceID:      remittanceID,
		PoolID:            poolID,
		AmountMicros:      amountMicros,
		Currency:          currency,
		PoolBalanceMicros: credited.BalanceMicros,
		Status:            "RECORDED",
	}
	return commons.SuccessResponse("Remittance recorded", response), nil
}
