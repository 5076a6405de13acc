package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parametriq/settlement-core/internal/adapter/http/models"
	"github.com/parametriq/settlement-core/internal/commons"
	"github.com/parametriq/settlement-core/internal/domain"
	"github.com/parametriq/settlement-core/internal/logger"
)

type TreasuryOps interface {
	CreatePool(ctx context.Context, pool domain.LiquidityPool) (domain.LiquidityPool, error)
	GetPool(ctx context.Context, poolID string) (domain.LiquidityPool, error)
	ListPools(ctx context.Context) ([]domain.LiquidityPool, error)
	CheckLiquidity(ctx context.Context, poolID string, amountMicros int64) (domain.LiquidityCheckResult, error)
	ListUnacknowledgedAlerts(ctx context.Context) ([]domain.TreasuryAlert, error)
	AcknowledgeAlert(ctx context.Context, alertID string) error
}

type BalanceReader interface {
	GetAllAccountBalances(ctx context.Context) ([]domain.AccountBalance, error)
}

type TreasuryController struct {
	treasury TreasuryOps
	ledger   BalanceReader
}

func NewTreasuryController(treasury TreasuryOps, ledger BalanceReader) *TreasuryController {
	return &TreasuryController{treasury: treasury, ledger: ledger}
}

func (c *TreasuryController) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	wrap := func(h http.HandlerFunc) http.Handler {
		if authMiddleware != nil {
			return authMiddleware(h)
		}
		return h
	}

	mux.Handle("/pools", wrap(c.pools))
	mux.Handle("/pools/", wrap(c.poolSubresource))
	mux.Handle("/balances", wrap(c.balances))
	mux.Handle("/alerts", wrap(c.alerts))
	mux.Handle("/alerts/acknowledge", wrap(c.acknowledgeAlert))
}

func (c *TreasuryController) pools(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.listPools(w, r)
	case http.MethodPost:
		c.createPool(w, r)
	default:
		response := commons.ErrorResponse[models.PoolResponse]("method not allowed")
		writeJSON(w, http.StatusMethodNotAllowed, response)
	}
}

func (c *TreasuryController) listPools(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logRequest(r, nil)

	pools, err := c.treasury.ListPools(r.Context())
	if err != nil {
		logError(r, err, nil)
		response := commons.ErrorResponse[[]models.PoolResponse]("failed to list pools", err.Error())
		writeJSON(w, http.StatusInternalServerError, response)
		logResponse(r, http.StatusInternalServerError, response, start)
		return
	}

	payload := make([]models.PoolResponse, 0, len(pools))
	for _, pool := range pools {
		payload = append(payload, poolToResponse(pool))
	}

	response := commons.SuccessResponse("Pools retrieved", payload)
	writeJSON(w, http.StatusOK, response)
	logResponse(r, http.StatusOK, response, start)
}

func (c *TreasuryController) createPool(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logRequest(r, nil)

	var req models.CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logError(r, err, nil)
		response := commons.ErrorResponse[models.PoolResponse]("invalid request body", err.Error())
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}
	logRequest(r, req)

	if err := req.Validate(); err != nil {
		response := commons.ErrorResponse[models.PoolResponse]("validation failed", err.Error())
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}

	pool := domain.LiquidityPool{
		ID:                   strings.TrimSpace(req.PoolID),
		Name:                 strings.TrimSpace(req.Name),
		Currency:             strings.ToUpper(strings.TrimSpace(req.Currency)),
		BalanceMicros:        domain.MicrosFromDecimal(req.InitialBalance),
		MinimumReserveMicros: domain.MicrosFromDecimal(req.MinimumReserve),
	}

	created, err := c.treasury.CreatePool(r.Context(), pool)
	if err != nil {
		logError(r, err, logger.Fields{"poolId": pool.ID})
		response := commons.ErrorResponse[models.PoolResponse]("failed to create pool", err.Error())
		writeJSON(w, http.StatusUnprocessableEntity, response)
		logResponse(r, http.StatusUnprocessableEntity, response, start)
		return
	}

	response := commons.SuccessResponse("Pool created", poolToResponse(created))
	writeJSON(w, http.StatusCreated, response)
	logResponse(r, http.StatusCreated, response, start)
}

// poolSubresource routes /pools/{id} and /pools/{id}/liquidity.
func (c *TreasuryController) poolSubresource(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logRequest(r, nil)

	if r.Method != http.MethodGet {
		response := commons.ErrorResponse[models.PoolResponse]("method not allowed")
		writeJSON(w, http.StatusMethodNotAllowed, response)
		logResponse(r, http.StatusMethodNotAllowed, response, start)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/pools/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		c.getPool(w, r, parts[0], start)
	case len(parts) == 2 && parts[1] == "liquidity":
		c.checkLiquidity(w, r, parts[0], start)
	default:
		response := commons.ErrorResponse[models.PoolResponse]("not found")
		writeJSON(w, http.StatusNotFound, response)
		logResponse(r, http.StatusNotFound, response, start)
	}
}

func (c *TreasuryController) getPool(w http.ResponseWriter, r *http.Request, poolID string, start time.Time) {
	pool, err := c.treasury.GetPool(r.Context(), poolID)
	if err != nil {
		status := http.StatusInternalServerError
		message := "failed to retrieve pool"
		if errors.Is(err, commons.ErrRecordNotFound) {
			status = http.StatusNotFound
			message = "Pool not found"
		}
		logError(r, err, logger.Fields{"poolId": poolID})
		response := commons.ErrorResponse[models.PoolResponse](message, err.Error())
		writeJSON(w, status, response)
		logResponse(r, status, response, start)
		return
	}

	response := commons.SuccessResponse("Pool retrieved", poolToResponse(pool))
	writeJSON(w, http.StatusOK, response)
	logResponse(r, http.StatusOK, response, start)
}

func (c *TreasuryController) checkLiquidity(w http.ResponseWriter, r *http.Request, poolID string, start time.Time) {
	amountMicros, err := strconv.ParseInt(r.URL.Query().Get("amountMicros"), 10, 64)
	if err != nil || amountMicros <= 0 {
		response := commons.ErrorResponse[models.LiquidityCheckResponse]("validation failed", "amountMicros must be a positive integer")
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}

	result, err := c.treasury.CheckLiquidity(r.Context(), poolID, amountMicros)
	if err != nil {
		status := http.StatusInternalServerError
		message := "failed to check liquidity"
		if errors.Is(err, commons.ErrRecordNotFound) {
			status = http.StatusNotFound
			message = "Pool not found"
		}
		logError(r, err, logger.Fields{"poolId": poolID})
		response := commons.ErrorResponse[models.LiquidityCheckResponse](message, err.Error())
		writeJSON(w, status, response)
		logResponse(r, status, response, start)
		return
	}

	response := commons.SuccessResponse("Liquidity checked", models.LiquidityCheckResponse{
		PoolID:          result.PoolID,
		PoolStatus:      string(result.PoolStatus),
		RequestedMicros: result.RequestedMicros,
		AvailableMicros: result.AvailableMicros,
		ShortfallMicros: result.ShortfallMicros,
		Sufficient:      result.Sufficient,
	})
	writeJSON(w, http.StatusOK, response)
	logResponse(r, http.StatusOK, response, start)
}

func (c *TreasuryController) balances(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logRequest(r, nil)

	if r.Method != http.MethodGet {
		response := commons.ErrorResponse[[]models.AccountBalanceResponse]("method not allowed")
		writeJSON(w, http.StatusMethodNotAllowed, response)
		logResponse(r, http.StatusMethodNotAllowed, response, start)
		return
	}

	balances, err := c.ledger.GetAllAccountBalances(r.Context())
	if err != nil {
		logError(r, err, nil)
		response := commons.ErrorResponse[[]models.AccountBalanceResponse]("failed to compute balances", err.Error())
		writeJSON(w, http.StatusInternalServerError, response)
		logResponse(r, http.StatusInternalServerError, response, start)
		return
	}

	payload := make([]models.AccountBalanceResponse, 0, len(balances))
	for _, balance := range balances {
		payload = append(payload, models.AccountBalanceResponse{
			Account:       balance.Account.String(),
			Currency:      balance.Currency,
			BalanceMicros: balance.BalanceMicros,
			Balance:       domain.DecimalFromMicros(balance.BalanceMicros).StringFixed(6),
			EntryCount:    balance.EntryCount,
			LastEntryID:   balance.LastEntryID,
			LastEntryAt:   models.FormatTime(balance.LastEntryAt),
		})
	}

	response := commons.SuccessResponse("Balances computed", payload)
	writeJSON(w, http.StatusOK, response)
	logResponse(r, http.StatusOK, response, start)
}

func (c *TreasuryController) alerts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logRequest(r, nil)

	if r.Method != http.MethodGet {
		response := commons.ErrorResponse[[]models.AlertResponse]("method not allowed")
		writeJSON(w, http.StatusMethodNotAllowed, response)
		logResponse(r, http.StatusMethodNotAllowed, response, start)
		return
	}

	alerts, err := c.treasury.ListUnacknowledgedAlerts(r.Context())
	if err != nil {
		logError(r, err, nil)
		response := commons.ErrorResponse[[]models.AlertResponse]("failed to list alerts", err.Error())
		writeJSON(w, http.StatusInternalServerError, response)
		logResponse(r, http.StatusInternalServerError, response, start)
		return
	}

	payload := make([]models.AlertResponse, 0, len(alerts))
	for _, alert := range alerts {
		payload = append(payload, models.AlertResponse{
			AlertID:              alert.ID,
			PoolID:               alert.PoolID,
			Type:                 string(alert.Type),
			BalanceMicros:        alert.BalanceMicros,
			MinimumReserveMicros: alert.MinimumReserveMicros,
			Message:              alert.Message,
			CreatedAt:            models.FormatTime(alert.CreatedAt),
		})
	}

	response := commons.SuccessResponse("Alerts retrieved", payload)
	writeJSON(w, http.StatusOK, response)
	logResponse(r, http.StatusOK, response, start)
}

func (c *TreasuryController) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logRequest(r, nil)

	if r.Method != http.MethodPost {
		response := commons.ErrorResponse[models.AcknowledgeAlertRequest]("method not allowed")
		writeJSON(w, http.StatusMethodNotAllowed, response)
		logResponse(r, http.StatusMethodNotAllowed, response, start)
		return
	}

	var req models.AcknowledgeAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logError(r, err, nil)
		response := commons.ErrorResponse[models.AcknowledgeAlertRequest]("invalid request body", err.Error())
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}
	logRequest(r, req)

	if err := req.Validate(); err != nil {
		response := commons.ErrorResponse[models.AcknowledgeAlertRequest]("validation failed", err.Error())
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}

	if err := c.treasury.AcknowledgeAlert(r.Context(), strings.TrimSpace(req.AlertID)); err != nil {
		status := http.StatusInternalServerError
		message := "failed to acknowledge alert"
		if errors.Is(err, commons.ErrRecordNotFound) {
			status = http.StatusNotFound
			message = "Alert not found or already acknowledged"
		}
		logError(r, err, nil)
		response := commons.ErrorResponse[models.AcknowledgeAlertRequest](message, err.Error())
		writeJSON(w, status, response)
		logResponse(r, status, response, start)
		return
	}

	response := commons.SuccessResponse("Alert acknowledged", req)
	writeJSON(w, http.StatusOK, response)
	logResponse(r, http.StatusOK, response, start)
}

func poolToResponse(pool domain.LiquidityPool) models.PoolResponse {
	return models.PoolResponse{
		PoolID:               pool.ID,
		Name:                 pool.Name,
		Currency:             pool.Currency,
		BalanceMicros:        pool.BalanceMicros,
		Balance:              domain.DecimalFromMicros(pool.BalanceMicros).StringFixed(6),
		MinimumReserveMicros: pool.MinimumReserveMicros,
		Status:               string(pool.Status),
		CreatedAt:            models.FormatTime(pool.CreatedAt),
		LastActivityAt:       models.FormatTime(pool.LastActivityAt),
	}
}
