package valuation

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the as-of-date valuation report.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs valuation handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers valuation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/valuation/{sku}", h.handleReport)
}

type reportResponse struct {
	SKU         string `json:"sku"`
	AsOf        string `json:"as_of"`
	ClosingQty  int64  `json:"closing_qty"`
	UnitCostUSD string `json:"unit_cost_usd"`
	UnitCostAED string `json:"unit_cost_aed"`
	ValueUSD    string `json:"value_usd"`
	ValueAED    string `json:"value_aed"`
	CostKnown   bool   `json:"cost_known"`
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.RespondError(w, shared.Validationf("invalid as_of date %q", raw))
			return
		}
		asOf = parsed
	}
	report, err := h.service.Report(r.Context(), sku, asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reportResponse{
		SKU:         report.SKU,
		AsOf:        report.AsOf.Format("2006-01-02"),
		ClosingQty:  report.ClosingQty,
		UnitCostUSD: report.UnitCost.USD.StringFixed(shared.MoneyPlaces),
		UnitCostAED: report.UnitCost.AED.StringFixed(shared.MoneyPlaces),
		ValueUSD:    report.Value.USD.StringFixed(shared.MoneyPlaces),
		ValueAED:    report.Value.AED.StringFixed(shared.MoneyPlaces),
		CostKnown:   report.CostKnown,
	})
}
