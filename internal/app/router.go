package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountableHandler is the contract every module's HTTP handler satisfies.
type MountableHandler interface {
	MountRoutes(r chi.Router)
}

// RouterParams collects everything the router mounts.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	LedgerHandler    MountableHandler
	InventoryHandler MountableHandler
	CostingHandler   MountableHandler
	ValuationHandler MountableHandler
	PostingHandler   MountableHandler
	JobHandler       MountableHandler
}

// NewRouter assembles the HTTP surface: middleware stack, health probe and
// one route subtree per module.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: params.Logger, Config: params.Config}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mount := func(pattern string, h MountableHandler) {
		if h == nil {
			return
		}
		r.Route(pattern, func(sub chi.Router) {
			h.MountRoutes(sub)
		})
	}
	mount("/ledger", params.LedgerHandler)
	mount("/inventory", params.InventoryHandler)
	r.Route("/reports", func(sub chi.Router) {
		if params.CostingHandler != nil {
			sub.Route("/costing", params.CostingHandler.MountRoutes)
		}
		if params.ValuationHandler != nil {
			params.ValuationHandler.MountRoutes(sub)
		}
	})
	mount("/posting", params.PostingHandler)
	mount("/jobs", params.JobHandler)

	return r
}
