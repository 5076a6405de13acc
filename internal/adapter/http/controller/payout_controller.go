package controller

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/parametriq/settlement-core/internal/adapter/http/models"
	"github.com/parametriq/settlement-core/internal/commons"
	"github.com/parametriq/settlement-core/internal/domain"
)

type PayoutOps interface {
	ApprovePayout(claimID string) error
	Payouts() []domain.PayoutTransaction
}

type PayoutController struct {
	service PayoutOps
}

func NewPayoutController(service PayoutOps) *PayoutController {
	return &PayoutController{service: service}
}

func (c *PayoutController) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	wrap := func(h http.HandlerFunc) http.Handler {
		if authMiddleware != nil {
			return authMiddleware(h)
		}
		return h
	}

	mux.Handle("/payouts", wrap(c.list))
	mux.Handle("/payouts/approve", wrap(c.approve))
}

func (c *PayoutController) list(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logRequest(r, nil)

	if r.Method != http.MethodGet {
		response := commons.ErrorResponse[[]models.PayoutResponse]("method not allowed")
		writeJSON(w, http.StatusMethodNotAllowed, response)
		logResponse(r, http.StatusMethodNotAllowed, response, start)
		return
	}

	payouts := c.service.Payouts()
	payload := make([]models.PayoutResponse, 0, len(payouts))
	for _, payout := range payouts {
		entry := models.PayoutResponse{
			ClaimID:        payout.ClaimID,
			PolicyID:       payout.PolicyID,
			PoolID:         payout.PoolID,
			AmountMicros:   payout.AmountMicros,
			Currency:       payout.Currency,
			Rail:           payout.Rail,
			Status:         string(payout.Status),
			TransactionRef: payout.TransactionRef,
			FailureCode:    payout.FailureCode,
			FailureReason:  payout.FailureReason,
			ObservedAt:     models.FormatTime(payout.ObservedAt),
		}
		if payout.CompletedAt != nil {
			entry.CompletedAt = models.FormatTime(*payout.CompletedAt)
		}
		payload = append(payload, entry)
	}

	response := commons.SuccessResponse("Payouts retrieved", payload)
	writeJSON(w, http.StatusOK, response)
	logResponse(r, http.StatusOK, response, start)
}

func (c *PayoutController) approve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logRequest(r, nil)

	if r.Method != http.MethodPost {
		response := commons.ErrorResponse[models.ApprovePayoutRequest]("method not allowed")
		writeJSON(w, http.StatusMethodNotAllowed, response)
		logResponse(r, http.StatusMethodNotAllowed, response, start)
		return
	}

	var req models.ApprovePayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logError(r, err, nil)
		response := commons.ErrorResponse[models.ApprovePayoutRequest]("invalid request body", err.Error())
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}
	logRequest(r, req)

	if err := req.Validate(); err != nil {
		response := commons.ErrorResponse[models.ApprovePayoutRequest]("validation failed", err.Error())
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}

	if err := c.service.ApprovePayout(strings.TrimSpace(req.ClaimID)); err != nil {
		logError(r, err, nil)
		response := commons.ErrorResponse[models.ApprovePayoutRequest]("no payout pending review for claim", err.Error())
		writeJSON(w, http.StatusNotFound, response)
		logResponse(r, http.StatusNotFound, response, start)
		return
	}

	response := commons.SuccessResponse("Payout approved", req)
	writeJSON(w, http.StatusOK, response)
	logResponse(r, http.StatusOK, response, start)
}
