package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/parametriq/settlement-core/internal/adapter/http/models"
	"github.com/parametriq/settlement-core/internal/commons"
)

type CaptureService interface {
	CapturePayment(ctx context.Context, req models.PaymentCapturedRequest) (commons.Response[models.PaymentCapturedResponse], error)
}

type WebhookController struct {
	service CaptureService
}

func NewWebhookController(service CaptureService) *WebhookController {
	return &WebhookController{service: service}
}

func (c *WebhookController) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	handler := http.HandlerFunc(c.paymentCaptured)
	if authMiddleware != nil {
		handler = authMiddleware(handler).ServeHTTP
	}

	mux.Handle("/webhooks/payment-captured", http.HandlerFunc(handler))
}

func (c *WebhookController) paymentCaptured(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logRequest(r, nil)

	if r.Method != http.MethodPost {
		response := commons.ErrorResponse[models.PaymentCapturedResponse]("method not allowed")
		writeJSON(w, http.StatusMethodNotAllowed, response)
		logResponse(r, http.StatusMethodNotAllowed, response, start)
		return
	}

	var req models.PaymentCapturedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logError(r, err, nil)
		response := commons.ErrorResponse[models.PaymentCapturedResponse]("invalid request body", err.Error())
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}
	logRequest(r, req)

	response, err := c.service.CapturePayment(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if response.Message == "validation failed" {
			status = http.StatusBadRequest
		}
		logError(r, err, nil)
		writeJSON(w, status, response)
		logResponse(r, status, response, start)
		return
	}

	writeJSON(w, http.StatusOK, response)
	logResponse(r, http.StatusOK, response, start)
}
