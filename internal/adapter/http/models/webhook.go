package models

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentCapturedRequest is the payment-provider webhook body. The provider
// event id becomes the ledger reference, which is what makes webhook
// redelivery a natural no-op.
type PaymentCapturedRequest struct {
	EventID     string          `json:"eventId"`
	Provider    string          `json:"provider"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

func (r PaymentCapturedRequest) Validate() error {
	var errs []string

	if strings.TrimSpace(r.EventID) == "" {
		errs = append(errs, "eventId is required")
	}
	if strings.TrimSpace(r.Provider) == "" {
		errs = append(errs, "provider is required")
	}
	if r.Amount.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "amount must be greater than zero")
	}
	if len(strings.TrimSpace(r.Currency)) != 3 {
		errs = append(errs, "currency must be 3 characters")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

type PaymentCapturedResponse struct {
	TransactionID string `json:"transactionId"`
	EventID       string `json:"eventId"`
	AmountMicros  int64  `json:"amountMicros"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
}
