package models

import (
	"errors"
	"strings"
)

type ApprovePayoutRequest struct {
	ClaimID string `json:"claimId"`
}

func (r ApprovePayoutRequest) Validate() error {
	if strings.TrimSpace(r.ClaimID) == "" {
		return errors.New("claimId is required")
	}
	return nil
}

type PayoutResponse struct {
	ClaimID        string `json:"claimId"`
	PolicyID       string `json:"policyId,omitempty"`
	PoolID         string `json:"poolId"`
	AmountMicros   int64  `json:"amountMicros"`
	Currency       string `json:"currency"`
	Rail           string `json:"rail,omitempty"`
	Status         string `json:"status"`
	TransactionRef string `json:"transactionRef,omitempty"`
	FailureCode    string `json:"failureCode,omitempty"`
	FailureReason  string `json:"failureReason,omitempty"`
	ObservedAt     string `json:"observedAt"`
	CompletedAt    string `json:"completedAt,omitempty"`
}
