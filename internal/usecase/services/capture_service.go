package services

import (
	"context"
	"errors"
	"strings"

	"github.com/parametriq/settlement-core/internal/adapter/http/models"
	"github.com/parametriq/settlement-core/internal/commons"
	"github.com/parametriq/settlement-core/internal/domain"
	"github.com/parametriq/settlement-core/internal/logger"
	"github.com/parametriq/settlement-core/internal/usecase/service_interfaces"
)

// CaptureService turns payment-provider webhook deliveries into ledger
// transactions. Redelivery of the same provider event id is an accepted
// no-op via the duplicate-reference gate.
type CaptureService struct {
	ledger service_interfaces.LedgerService
}

func NewCaptureService(ledger service_interfaces.LedgerService) *CaptureService {
	return &CaptureService{ledger: ledger}
}

func (s *CaptureService) CapturePayment(ctx context.Context, req models.PaymentCapturedRequest) (commons.Response[models.PaymentCapturedResponse], error) {
	logger.Info("capture service payment captured request", logger.Fields{
		"payload": logger.SanitizePayload(req),
	})

	if err := req.Validate(); err != nil {
		return commons.ErrorResponse[models.PaymentCapturedResponse]("validation failed", err.Error()), err
	}

	eventID := strings.TrimSpace(req.EventID)
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	amountMicros := domain.MicrosFromDecimal(req.Amount)

	txn, _, err := s.ledger.RecordTransaction(ctx, domain.TransactionInput{
		Entries: []domain.EntryInput{
			{Account: domain.CoreAccountOf(domain.AccountAssetTreasury), AmountMicros: amountMicros, Memo: strings.TrimSpace(req.Description)},
			{Account: domain.CoreAccountOf(domain.AccountLiabilityReserve), AmountMicros: -amountMicros},
		},
		Currency:      currency,
		ReferenceID:   eventID,
		ReferenceType: domain.ReferencePaymentCapture,
		Description:   "payment capture " + eventID,
		CreatedBy:     strings.TrimSpace(req.Provider),
	})
	if err != nil {
		var duplicate *domain.DuplicateReferenceError
		if errors.As(err, &duplicate) {
			logger.Info("capture service duplicate delivery accepted", logger.Fields{
				"eventId": eventID,
			})
			response := models.PaymentCapturedResponse{
				EventID:      eventID,
				AmountMicros: amountMicros,
				Currency:     currency,
				Status:       "ALREADY_RECORDED",
			}
			return commons.NoOpResponse("Payment already recorded", response), nil
		}
		logger.Error("capture service record transaction failed", err, logger.Fields{
			"eventId": eventID,
		})
		return commons.ErrorResponse[models.PaymentCapturedResponse]("failed to record payment", "Unable to record payment right now"), err
	}

	response := models.PaymentCapturedResponse{
		TransactionID: txn.ID,
		EventID:       eventID,
		AmountMicros:  amountMicros,
		Currency:      currency,
		Status:        "RECORDED",
	}
	return commons.SuccessResponse("Payment recorded", response), nil
}
