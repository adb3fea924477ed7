package posting

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/invoicing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for invoice lifecycle postings.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
	validate    *validator.Validate
}

// NewHandler constructs posting handler.
func NewHandler(logger *slog.Logger, coordinator *Coordinator) *Handler {
	return &Handler{logger: logger, coordinator: coordinator, validate: validator.New()}
}

// MountRoutes registers posting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.handleCreate)
	r.Get("/invoices/{id}", h.handleGet)
	r.Post("/invoices/{id}/transitions", h.handleTransition)
}

type amountPair struct {
	USD string `json:"usd" validate:"required"`
	AED string `json:"aed" validate:"required"`
}

type lineRequest struct {
	SKU             string      `json:"sku" validate:"required"`
	Qty             int64       `json:"qty" validate:"required,gt=0"`
	UnitPrice       amountPair  `json:"unit_price" validate:"required"`
	ShippingPerUnit *amountPair `json:"shipping_per_unit"`
	CustomsPerUnit  *amountPair `json:"customs_per_unit"`
	TaxRatePct      *string     `json:"tax_rate_pct"`
}

type feeRequest struct {
	Label  string     `json:"label" validate:"required"`
	Amount amountPair `json:"amount" validate:"required"`
}

type paymentRequest struct {
	Method string `json:"method" validate:"required,oneof=hand bank cheque"`
	Amount string `json:"amount" validate:"required"`
	Note   string `json:"note"`
}

type consumptionRequest struct {
	SKU       string     `json:"sku" validate:"required"`
	Qty       int64      `json:"qty" validate:"required,gt=0"`
	LotID     *int64     `json:"lot_id"`
	SalePrice amountPair `json:"sale_price" validate:"required"`
}

type taxRequest struct {
	ID      int64  `json:"id"`
	RatePct string `json:"rate_pct" validate:"required"`
	Active  bool   `json:"active"`
}

type createRequest struct {
	Ref          string               `json:"ref"`
	Kind         string               `json:"kind" validate:"required,oneof=sale purchase"`
	Account      string               `json:"account" validate:"required,oneof=main profit"`
	Lines        []lineRequest        `json:"lines" validate:"required,min=1,dive"`
	Fees         []feeRequest         `json:"fees" validate:"dive"`
	Discount     *amountPair          `json:"discount"`
	TaxEnabled   bool                 `json:"tax_enabled"`
	Tax          *taxRequest          `json:"tax"`
	Payments     []paymentRequest     `json:"payments" validate:"dive"`
	Consumptions []consumptionRequest `json:"consumptions" validate:"dive"`
	Actor        string               `json:"actor" validate:"required"`
}

type transitionRequest struct {
	Target string `json:"target" validate:"required,oneof=draft pending_approval approved cancelled returned"`
	Actor  string `json:"actor" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	input, err := h.toCreateInput(req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoice, err := h.coordinator.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("invoice created", slog.Int64("invoice_id", invoice.ID), slog.String("ref", invoice.Ref))
	httpx.JSON(w, http.StatusCreated, toInvoiceResponse(invoice))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validationf("invalid invoice id"))
		return
	}
	invoice, err := h.coordinator.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validationf("invalid invoice id"))
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	invoice, err := h.coordinator.Transition(r.Context(), TransitionInput{
		InvoiceID:      id,
		Target:         Status(req.Target),
		Actor:          req.Actor,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

func (h *Handler) toCreateInput(req createRequest) (CreateInput, error) {
	ref := req.Ref
	if ref == "" {
		ref = uuid.NewString()
	}
	input := CreateInput{
		Ref:        ref,
		Kind:       InvoiceKind(req.Kind),
		Account:    ledger.AccountType(req.Account),
		TaxEnabled: req.TaxEnabled,
		Actor:      req.Actor,
	}
	for _, line := range req.Lines {
		unitPrice, err := parsePair(line.UnitPrice)
		if err != nil {
			return CreateInput{}, err
		}
		shipping, err := parseOptionalPair(line.ShippingPerUnit)
		if err != nil {
			return CreateInput{}, err
		}
		customs, err := parseOptionalPair(line.CustomsPerUnit)
		if err != nil {
			return CreateInput{}, err
		}
		item := invoicing.LineItem{
			SKU:             line.SKU,
			Qty:             line.Qty,
			UnitPrice:       unitPrice,
			ShippingPerUnit: shipping,
			CustomsPerUnit:  customs,
		}
		if line.TaxRatePct != nil {
			rate, err := decimal.NewFromString(*line.TaxRatePct)
			if err != nil {
				return CreateInput{}, shared.Validationf("invalid tax rate %q", *line.TaxRatePct)
			}
			item.TaxRatePct = &rate
		}
		input.Lines = append(input.Lines, item)
	}
	for _, fee := range req.Fees {
		amount, err := parsePair(fee.Amount)
		if err != nil {
			return CreateInput{}, err
		}
		input.Fees = append(input.Fees, invoicing.ServiceFee{Label: fee.Label, Amount: amount})
	}
	discount, err := parseOptionalPair(req.Discount)
	if err != nil {
		return CreateInput{}, err
	}
	input.Discount = discount
	if req.Tax != nil {
		rate, err := decimal.NewFromString(req.Tax.RatePct)
		if err != nil {
			return CreateInput{}, shared.Validationf("invalid tax rate %q", req.Tax.RatePct)
		}
		input.Tax = &invoicing.TaxConfig{ID: req.Tax.ID, RatePct: rate, Active: req.Tax.Active}
	}
	for _, payment := range req.Payments {
		amount, err := decimal.NewFromString(payment.Amount)
		if err != nil {
			return CreateInput{}, shared.Validationf("invalid payment amount %q", payment.Amount)
		}
		input.Payments = append(input.Payments, Payment{Method: PaymentMethod(payment.Method), Amount: amount, Note: payment.Note})
	}
	for _, cons := range req.Consumptions {
		price, err := parsePair(cons.SalePrice)
		if err != nil {
			return CreateInput{}, err
		}
		input.Consumptions = append(input.Consumptions, Consumption{SKU: cons.SKU, Qty: cons.Qty, LotID: cons.LotID, SalePrice: price})
	}
	return input, nil
}

type invoiceResponse struct {
	ID          int64  `json:"id"`
	Ref         string `json:"ref"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Account     string `json:"account"`
	SubtotalUSD string `json:"subtotal_usd"`
	SubtotalAED string `json:"subtotal_aed"`
	VATUSD      string `json:"vat_usd"`
	VATAED      string `json:"vat_aed"`
	CustomsUSD  string `json:"customs_usd"`
	CustomsAED  string `json:"customs_aed"`
	GrandUSD    string `json:"grand_total_usd"`
	GrandAED    string `json:"grand_total_aed"`
	TaxRateUsed string `json:"tax_rate_used"`
	TotalsStale bool   `json:"totals_stale"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func toInvoiceResponse(invoice Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:          invoice.ID,
		Ref:         invoice.Ref,
		Kind:        string(invoice.Kind),
		Status:      string(invoice.Status),
		Account:     string(invoice.Account),
		SubtotalUSD: invoice.Totals.Subtotal.USD.StringFixed(shared.MoneyPlaces),
		SubtotalAED: invoice.Totals.Subtotal.AED.StringFixed(shared.MoneyPlaces),
		VATUSD:      invoice.Totals.VAT.USD.StringFixed(shared.MoneyPlaces),
		VATAED:      invoice.Totals.VAT.AED.StringFixed(shared.MoneyPlaces),
		CustomsUSD:  invoice.Totals.Customs.USD.StringFixed(shared.MoneyPlaces),
		CustomsAED:  invoice.Totals.Customs.AED.StringFixed(shared.MoneyPlaces),
		GrandUSD:    invoice.Totals.GrandTotal.USD.StringFixed(shared.MoneyPlaces),
		GrandAED:    invoice.Totals.GrandTotal.AED.StringFixed(shared.MoneyPlaces),
		TaxRateUsed: invoice.Totals.TaxRateUsed.String(),
		TotalsStale: invoice.TotalsStale,
	}
	if !invoice.CreatedAt.IsZero() {
		resp.CreatedAt = invoice.CreatedAt.Format(time.RFC3339)
	}
	return resp
}

func parsePair(pair amountPair) (shared.Amount, error) {
	usd, err := decimal.NewFromString(pair.USD)
	if err != nil {
		return shared.Amount{}, shared.Validationf("invalid usd amount %q", pair.USD)
	}
	aed, err := decimal.NewFromString(pair.AED)
	if err != nil {
		return shared.Amount{}, shared.Validationf("invalid aed amount %q", pair.AED)
	}
	return shared.Amount{USD: usd, AED: aed}, nil
}

func parseOptionalPair(pair *amountPair) (shared.Amount, error) {
	if pair == nil {
		return shared.ZeroAmount(), nil
	}
	return parsePair(*pair)
}
