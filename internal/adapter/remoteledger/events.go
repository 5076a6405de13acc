package remoteledger

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/parametriq/settlement-core/internal/domain"
)

const (
	EventClaimPayoutAuthorized = "CLAIM_PAYOUT_AUTHORIZED"
	EventCapitalPayoutExecuted = "CAPITAL_PAYOUT_EXECUTED"
	EventCapitalPayoutFailed   = "CAPITAL_PAYOUT_FAILED"
)

const SchemaVersion = 1

// Event is the remote ledger's append-only envelope. Sequence is assigned by
// the remote log and defines the total order the settlement worker polls in.
type Event struct {
	ID             string          `json:"id"`
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"eventType"`
	SchemaVersion  int             `json:"schemaVersion"`
	CorrelationID  string          `json:"correlationId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	OccurredAt     time.Time       `json:"occurredAt"`
	Producer       string          `json:"producer"`
	Subject        string          `json:"subject"`
	Payload        json.RawMessage `json:"payload"`
}

// PayoutAuthorization is the typed, validated form of a
// CLAIM_PAYOUT_AUTHORIZED payload. All business logic runs on this closed
// type, never on the raw JSON body.
type PayoutAuthorization struct {
	ClaimID            string
	PolicyID           string
	PoolID             string
	AmountMicros       int64
	Currency           string
	RecipientAddress   string
	Rail               string
	AuthorizingEventID string
}

type authorizationPayload struct {
	ClaimID          string `json:"claimId"`
	PolicyID         string `json:"policyId"`
	PoolID           string `json:"poolId"`
	AmountMicros     int64  `json:"amountMicros"`
	Currency         string `json:"currency"`
	RecipientAddress string `json:"recipientAddress"`
	Rail             string `json:"rail"`
}

// DecodeAuthorization validates an authorization event into its typed form.
// Any failure is a MalformedEventError: the event is skipped and logged, the
// cursor still advances past it.
func DecodeAuthorization(ev Event) (PayoutAuthorization, error) {
	if ev.EventType != EventClaimPayoutAuthorized {
		return PayoutAuthorization{}, &domain.MalformedEventError{EventID: ev.ID, Reason: "unexpected event type " + ev.EventType}
	}

	var payload authorizationPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return PayoutAuthorization{}, &domain.MalformedEventError{EventID: ev.ID, Reason: "payload is not valid JSON: " + err.Error()}
	}

	claimID := strings.TrimSpace(payload.ClaimID)
	if claimID == "" {
		claimID = strings.TrimSpace(ev.Subject)
	}
	if claimID == "" {
		return PayoutAuthorization{}, &domain.MalformedEventError{EventID: ev.ID, Reason: "claimId is required"}
	}
	if payload.AmountMicros <= 0 {
		return PayoutAuthorization{}, &domain.MalformedEventError{EventID: ev.ID, Reason: "amountMicros must be greater than zero"}
	}

	currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
	if !domain.IsSupportedCurrency(currency) {
		return PayoutAuthorization{}, &domain.MalformedEventError{EventID: ev.ID, Reason: "unsupported currency " + payload.Currency}
	}

	return PayoutAuthorization{
		ClaimID:            claimID,
		PolicyID:           strings.TrimSpace(payload.PolicyID),
		PoolID:             strings.TrimSpace(payload.PoolID),
		AmountMicros:       payload.AmountMicros,
		Currency:           currency,
		RecipientAddress:   strings.TrimSpace(payload.RecipientAddress),
		Rail:               strings.TrimSpace(payload.Rail),
		AuthorizingEventID: ev.ID,
	}, nil
}

type ExecutedPayload struct {
	ClaimID            string `json:"claimId"`
	TransactionRef     string `json:"transactionRef"`
	AmountMicros       int64  `json:"amountMicros"`
	Currency           string `json:"currency"`
	AuthorizingEventID string `json:"authorizingEventId"`
}

type FailedPayload struct {
	ClaimID            string `json:"claimId"`
	FailureCode        string `json:"failureCode"`
	FailureReason      string `json:"failureReason"`
	AuthorizingEventID string `json:"authorizingEventId"`
}

// ConsequenceIdempotencyKey derives the deterministic key under which a
// consequence event is appended, so a redelivered write is absorbed by the
// remote log instead of duplicated.
func ConsequenceIdempotencyKey(eventType, claimID string) string {
	return eventType + ":" + claimID
}
