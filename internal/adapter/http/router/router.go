package router

import "net/http"

type WebhookRouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler)
}

type RemittanceRouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler)
}

type TreasuryRouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler)
}

type PayoutRouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler)
}

func New(
	webhookController WebhookRouteRegistrar,
	remittanceController RemittanceRouteRegistrar,
	treasuryController TreasuryRouteRegistrar,
	payoutController PayoutRouteRegistrar,
	authMiddleware func(http.Handler) http.Handler,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if webhookController != nil {
		webhookController.RegisterRoutes(mux, authMiddleware)
	}
	if remittanceController != nil {
		remittanceController.RegisterRoutes(mux, authMiddleware)
	}
	if treasuryController != nil {
		treasuryController.RegisterRoutes(mux, authMiddleware)
	}
	if payoutController != nil {
		payoutController.RegisterRoutes(mux, authMiddleware)
	}

	return mux
}
