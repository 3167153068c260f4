package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ledger-holder/internal/observability"
)

func Router(h *LedgerHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Second))

	r.Route("/v1/ledger", func(r chi.Router) {
		r.Post("/open/preview", h.Preview)
		r.Get("/{slot}", h.Ledger)
		r.Get("/{slot}/entries/{key}", h.Entry)
	})
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
