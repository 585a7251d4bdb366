package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		RequestID(h.logger),
		Logging(h.logger),
	)

	// Служебные
	mux.Handle("GET /healthz", http.HandlerFunc(h.Health))
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Storage
	mux.Handle("GET /api/v1/status", chain(http.HandlerFunc(h.Status)))
	mux.Handle("POST /api/v1/read", chain(http.HandlerFunc(h.Read)))
	mux.Handle("POST /api/v1/publish", chain(http.HandlerFunc(h.Publish)))
}
