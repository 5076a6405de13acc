package models

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var authorizedRemittanceSources = []string{
	"REINSURANCE_TREATY",
	"PREMIUM_SWEEP",
	"CAPITAL_CONTRIBUTION",
	"INVESTMENT_RETURN",
}

type RemittanceRequest struct {
	RemittanceID string          `json:"remittanceId"`
	Source       string          `json:"source"`
	PoolID       string          `json:"poolId"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Memo         string          `json:"memo"`
}

func (r RemittanceRequest) Validate() error {
	var errs []string

	if strings.TrimSpace(r.RemittanceID) == "" {
		errs = append(errs, "remittanceId is required")
	}
	if !isAuthorizedSource(strings.TrimSpace(r.Source)) {
		errs = append(errs, "source is not an authorized remittance source")
	}
	if !strings.HasPrefix(strings.TrimSpace(r.PoolID), "pool_") {
		errs = append(errs, "poolId must follow the pool_ naming convention")
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

func isAuthorizedSource(value string) bool {
	for _, source := range authorizedRemittanceSources {
		if strings.EqualFold(source, value) {
			return true
		}
	}
	return false
}

type RemittanceResponse struct {
	TransactionID     string `json:"transactionId"`
	RemittanceID      string `json:"remittanceId"`
	PoolID            string `json:"poolId"`
	AmountMicros      int64  `json:"amountMicros"`
	Currency          string `json:"currency"`
	PoolBalanceMicros int64  `json:"poolBalanceMicros"`
	Status            string `json:"status"`
}
