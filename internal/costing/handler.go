package costing

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the batch profit report.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs costing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers costing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/profit/{sku}", h.handleReport)
}

type allocationResponse struct {
	SaleID    int64  `json:"sale_id"`
	SaleRef   string `json:"sale_ref,omitempty"`
	Qty       int64  `json:"qty"`
	ProfitUSD string `json:"profit_usd"`
	ProfitAED string `json:"profit_aed"`
}

type lotReportResponse struct {
	LotID       int64                `json:"lot_id"`
	Qty         int64                `json:"qty"`
	ConsumedQty int64                `json:"consumed_qty"`
	Remaining   int64                `json:"remaining"`
	ProfitUSD   string               `json:"profit_usd"`
	ProfitAED   string               `json:"profit_aed"`
	PurchasedAt string               `json:"purchased_at"`
	Allocations []allocationResponse `json:"allocations"`
}

type reportResponse struct {
	SKU            string              `json:"sku"`
	Lots           []lotReportResponse `json:"lots"`
	TotalProfitUSD string              `json:"total_profit_usd"`
	TotalProfitAED string              `json:"total_profit_aed"`
	ClosingQty     int64               `json:"closing_qty"`
	UnallocatedQty int64               `json:"unallocated_qty"`
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	result, err := h.service.Report(r.Context(), sku)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if result.UnallocatedQty > 0 {
		h.logger.Warn("sales demand exceeds recorded lots",
			slog.String("sku", sku), slog.Int64("unallocated", result.UnallocatedQty))
	}
	httpx.JSON(w, http.StatusOK, toReportResponse(result))
}

func toReportResponse(result Result) reportResponse {
	resp := reportResponse{
		SKU:            result.SKU,
		Lots:           make([]lotReportResponse, 0, len(result.Lots)),
		TotalProfitUSD: result.TotalProfit.USD.StringFixed(shared.MoneyPlaces),
		TotalProfitAED: result.TotalProfit.AED.StringFixed(shared.MoneyPlaces),
		ClosingQty:     result.ClosingQty,
		UnallocatedQty: result.UnallocatedQty,
	}
	for _, rep := range result.Lots {
		lotResp := lotReportResponse{
			LotID:       rep.Lot.ID,
			Qty:         rep.Lot.Qty,
			ConsumedQty: rep.ConsumedQty,
			Remaining:   rep.Remaining,
			ProfitUSD:   rep.Profit.USD.StringFixed(shared.MoneyPlaces),
			ProfitAED:   rep.Profit.AED.StringFixed(shared.MoneyPlaces),
			PurchasedAt: rep.Lot.PurchasedAt.Format(time.RFC3339),
			Allocations: make([]allocationResponse, 0, len(rep.Allocations)),
		}
		for _, a := range rep.Allocations {
			lotResp.Allocations = append(lotResp.Allocations, allocationResponse{
				SaleID:    a.SaleID,
				SaleRef:   a.SaleRef,
				Qty:       a.Qty,
				ProfitUSD: a.Profit.USD.StringFixed(shared.MoneyPlaces),
				ProfitAED: a.Profit.AED.StringFixed(shared.MoneyPlaces),
			})
		}
		resp.Lots = append(resp.Lots, lotResp)
	}
	return resp
}
