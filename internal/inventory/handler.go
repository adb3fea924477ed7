package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for stock tracking.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock/{sku}", h.handleStock)
	r.Get("/stock/{sku}/lots", h.handleLots)
	r.Get("/stock/{sku}/sales", h.handleSales)
	r.Post("/purchases", h.handlePurchase)
	r.Post("/sales", h.handleSale)
	r.Post("/returns", h.handleReturn)
	r.Post("/adjustments", h.handleAdjustment)
	r.Delete("/lots/{id}", h.handleRemoveLot)
}

type amountRequest struct {
	USD string `json:"usd" validate:"required"`
	AED string `json:"aed" validate:"required"`
}

type purchaseRequest struct {
	SKU             string         `json:"sku" validate:"required"`
	PurchaseRef     string         `json:"purchase_ref"`
	Qty             int64          `json:"qty" validate:"required,gt=0"`
	UnitCost        amountRequest  `json:"unit_cost" validate:"required"`
	ShippingPerUnit *amountRequest `json:"shipping_per_unit"`
	CustomsPerUnit  *amountRequest `json:"customs_per_unit"`
	TaxID           *int64         `json:"tax_id"`
	PurchasedAt     string         `json:"purchased_at"`
	Actor           string         `json:"actor" validate:"required"`
}

type saleRequest struct {
	SKU       string        `json:"sku" validate:"required"`
	Qty       int64         `json:"qty" validate:"required,gt=0"`
	SalePrice amountRequest `json:"sale_price" validate:"required"`
	LotID     *int64        `json:"lot_id"`
	SaleRef   string        `json:"sale_ref"`
	SoldAt    string        `json:"sold_at"`
	Actor     string        `json:"actor" validate:"required"`
}

type returnRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=purchase sale"`
	SKU   string `json:"sku" validate:"required"`
	Qty   int64  `json:"qty" validate:"required,gt=0"`
	LotID *int64 `json:"lot_id"`
	Ref   string `json:"ref"`
	Actor string `json:"actor" validate:"required"`
}

type adjustmentRequest struct {
	SKU   string `json:"sku" validate:"required"`
	Qty   int64  `json:"qty" validate:"required"`
	Note  string `json:"note"`
	Actor string `json:"actor" validate:"required"`
}

type lotResponse struct {
	ID          int64  `json:"id"`
	SKU         string `json:"sku"`
	PurchaseRef string `json:"purchase_ref,omitempty"`
	Qty         int64  `json:"qty"`
	SoldQty     int64  `json:"sold_qty"`
	Remaining   int64  `json:"remaining"`
	UnitCostUSD string `json:"unit_cost_usd"`
	UnitCostAED string `json:"unit_cost_aed"`
	PurchasedAt string `json:"purchased_at"`
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	qty, err := h.service.OnHand(r.Context(), sku)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sku": sku, "on_hand": qty})
}

func (h *Handler) handleLots(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	lots, err := h.service.Lots(r.Context(), sku)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]lotResponse, 0, len(lots))
	for _, lot := range lots {
		out = append(out, toLotResponse(lot))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": out})
}

func (h *Handler) handleSales(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	sales, err := h.service.Sales(r.Context(), sku)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	type saleResponse struct {
		ID      int64  `json:"id"`
		SaleRef string `json:"sale_ref,omitempty"`
		Qty     int64  `json:"qty"`
		LotID   *int64 `json:"lot_id,omitempty"`
		SoldAt  string `json:"sold_at"`
	}
	out := make([]saleResponse, 0, len(sales))
	for _, s := range sales {
		out = append(out, saleResponse{
			ID:      s.ID,
			SaleRef: s.SaleRef,
			Qty:     s.Qty,
			LotID:   s.LotID,
			SoldAt:  s.SoldAt.Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": out})
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	unitCost, err := parseAmount(req.UnitCost)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	shipping, err := parseOptionalAmount(req.ShippingPerUnit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	customs, err := parseOptionalAmount(req.CustomsPerUnit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	purchasedAt, err := parseTime(req.PurchasedAt)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lot, err := h.service.RecordPurchase(r.Context(), PurchaseInput{
		SKU:             req.SKU,
		PurchaseRef:     req.PurchaseRef,
		Qty:             req.Qty,
		UnitCost:        unitCost,
		ShippingPerUnit: shipping,
		CustomsPerUnit:  customs,
		TaxID:           req.TaxID,
		PurchasedAt:     purchasedAt,
		Actor:           req.Actor,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("lot recorded", slog.String("sku", lot.SKU), slog.Int64("lot_id", lot.ID))
	httpx.JSON(w, http.StatusCreated, toLotResponse(lot))
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	price, err := parseAmount(req.SalePrice)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	soldAt, err := parseTime(req.SoldAt)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.service.RecordSale(r.Context(), SaleInput{
		SKU:       req.SKU,
		Qty:       req.Qty,
		SalePrice: price,
		LotID:     req.LotID,
		SaleRef:   req.SaleRef,
		SoldAt:    soldAt,
		Actor:     req.Actor,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": sale.ID, "sku": sale.SKU, "qty": sale.Qty})
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	err := h.service.RecordReturn(r.Context(), ReturnInput{
		Kind:  ReturnKind(req.Kind),
		SKU:   req.SKU,
		Qty:   req.Qty,
		LotID: req.LotID,
		Ref:   req.Ref,
		Actor: req.Actor,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	err := h.service.RecordAdjustment(r.Context(), Adjustment{SKU: req.SKU, Qty: req.Qty, Note: req.Note}, req.Actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (h *Handler) handleRemoveLot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validationf("invalid lot id"))
		return
	}
	actor := r.URL.Query().Get("actor")
	if err := h.service.RemoveLot(r.Context(), id, actor); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseAmount(req amountRequest) (shared.Amount, error) {
	usd, err := decimal.NewFromString(req.USD)
	if err != nil {
		return shared.Amount{}, shared.Validationf("invalid usd amount %q", req.USD)
	}
	aed, err := decimal.NewFromString(req.AED)
	if err != nil {
		return shared.Amount{}, shared.Validationf("invalid aed amount %q", req.AED)
	}
	return shared.Amount{USD: usd, AED: aed}, nil
}

func parseOptionalAmount(req *amountRequest) (shared.Amount, error) {
	if req == nil {
		return shared.ZeroAmount(), nil
	}
	return parseAmount(*req)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, shared.Validationf("invalid timestamp %q", raw)
	}
	return ts, nil
}

func toLotResponse(lot Lot) lotResponse {
	return lotResponse{
		ID:          lot.ID,
		SKU:         lot.SKU,
		PurchaseRef: lot.PurchaseRef,
		Qty:         lot.Qty,
		SoldQty:     lot.SoldQty,
		Remaining:   lot.Remaining(),
		UnitCostUSD: lot.UnitCost.USD.StringFixed(shared.MoneyPlaces),
		UnitCostAED: lot.UnitCost.AED.StringFixed(shared.MoneyPlaces),
		PurchasedAt: lot.PurchasedAt.Format(time.RFC3339),
	}
}
