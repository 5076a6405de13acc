package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/parametriq/settlement-core/internal/adapter/http/models"
	"github.com/parametriq/settlement-core/internal/commons"
)

type RemittanceService interface {
	SubmitRemittance(ctx context.Context, req models.RemittanceRequest) (commons.Response[models.RemittanceResponse], error)
}

type RemittanceController struct {
	service RemittanceService
}

func NewRemittanceController(service RemittanceService) *RemittanceController {
	return &RemittanceController{service: service}
}

func (c *RemittanceController) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	handler := http.HandlerFunc(c.submit)
	if authMiddleware != nil {
		handler = authMiddleware(handler).ServeHTTP
	}

	mux.Handle("/remittances", http.HandlerFunc(handler))
}

func (c *RemittanceController) submit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logRequest(r, nil)

	if r.Method != http.MethodPost {
		response := commons.ErrorResponse[models.RemittanceResponse]("method not allowed")
		writeJSON(w, http.StatusMethodNotAllowed, response)
		logResponse(r, http.StatusMethodNotAllowed, response, start)
		return
	}

	var req models.RemittanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logError(r, err, nil)
		response := commons.ErrorResponse[models.RemittanceResponse]("invalid request body", err.Error())
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}
	logRequest(r, req)

	response, err := c.service.SubmitRemittance(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if response.Message == "validation failed" {
			status = http.StatusBadRequest
		}
		if response.Message == "Pool not found" {
			status = http.StatusNotFound
		}
		logError(r, err, nil)
		writeJSON(w, status, response)
		logResponse(r, status, response, start)
		return
	}

	writeJSON(w, http.StatusOK, response)
	logResponse(r, http.StatusOK, response, start)
}
