package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CreatePoolRequest struct {
	PoolID         string          `json:"poolId"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
	MinimumReserve decimal.Decimal `json:"minimumReserve"`
}

func (r CreatePoolRequest) Validate() error {
	var errs []string

	if !strings.HasPrefix(strings.TrimSpace(r.PoolID), "pool_") {
		errs = append(errs, "poolId must follow the pool_ naming convention")
	}
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, "name is required")
	}
	if len(strings.TrimSpace(r.Currency)) != 3 {
		errs = append(errs, "currency must be 3 characters")
	}
	if r.InitialBalance.IsNegative() {
		errs = append(errs, "initialBalance must not be negative")
	}
	if r.MinimumReserve.IsNegative() {
		errs = append(errs, "minimumReserve must not be negative")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

type PoolResponse struct {
	PoolID               string `json:"poolId"`
	Name                 string `json:"name"`
	Currency             string `json:"currency"`
	BalanceMicros        int64  `json:"balanceMicros"`
	Balance              string `json:"balance"`
	MinimumReserveMicros int64  `json:"minimumReserveMicros"`
	Status               string `json:"status"`
	CreatedAt            string `json:"createdAt"`
	LastActivityAt       string `json:"lastActivityAt"`
}

type LiquidityCheckResponse struct {
	PoolID          string `json:"poolId"`
	PoolStatus      string `json:"poolStatus"`
	RequestedMicros int64  `json:"requestedMicros"`
	AvailableMicros int64  `json:"availableMicros"`
	ShortfallMicros int64  `json:"shortfallMicros"`
	Sufficient      bool   `json:"sufficient"`
}

type AcknowledgeAlertRequest struct {
	AlertID string `json:"alertId"`
}

func (r AcknowledgeAlertRequest) Validate() error {
	if strings.TrimSpace(r.AlertID) == "" {
		return errors.New("alertId is required")
	}
	return nil
}

type AlertResponse struct {
	AlertID              string `json:"alertId"`
	PoolID               string `json:"poolId"`
	Type                 string `json:"type"`
	BalanceMicros        int64  `json:"balanceMicros"`
	MinimumReserveMicros int64  `json:"minimumReserveMicros"`
	Message              string `json:"message"`
	CreatedAt            string `json:"createdAt"`
}

type AccountBalanceResponse struct {
	Account       string `json:"account"`
	Currency      string `json:"currency"`
	BalanceMicros int64  `json:"balanceMicros"`
	Balance       string `json:"balance"`
	EntryCount    int64  `json:"entryCount"`
	LastEntryID   string `json:"lastEntryId,omitempty"`
	LastEntryAt   string `json:"lastEntryAt,omitempty"`
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
