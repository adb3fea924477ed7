package ledger

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the cash ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts/{type}", h.handleBalances)
	r.Get("/accounts/{type}/statement", h.handleStatement)
	r.Post("/accounts/{type}/deposits", h.handleDeposit)
	r.Post("/accounts/{type}/withdrawals", h.handleWithdraw)
	r.Post("/accounts/{type}/transfers", h.handleTransfer)
}

type movementRequest struct {
	SubAccount string `json:"sub_account" validate:"required,oneof=hand bank cheque"`
	Amount     string `json:"amount" validate:"required"`
	Actor      string `json:"actor" validate:"required"`
	Note       string `json:"note"`
}

type transferRequest struct {
	From   string `json:"from" validate:"required,oneof=hand bank cheque"`
	To     string `json:"to" validate:"required,oneof=hand bank cheque"`
	Amount string `json:"amount" validate:"required"`
	Actor  string `json:"actor" validate:"required"`
	Note   string `json:"note"`
}

type balanceResponse struct {
	AccountType string `json:"account_type"`
	SubAccount  string `json:"sub_account"`
	Balance     string `json:"balance"`
}

type entryResponse struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	SubAccount string `json:"sub_account"`
	Amount     string `json:"amount"`
	LinkedSub  string `json:"linked_sub,omitempty"`
	Actor      string `json:"actor"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	accountType, err := ParseAccountType(chi.URLParam(r, "type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.Balances(r.Context(), accountType)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{
		"account_type": string(account.Type),
		"hand":         account.Hand.StringFixed(shared.MoneyPlaces),
		"bank":         account.Bank.StringFixed(shared.MoneyPlaces),
		"cheque":       account.Cheque.StringFixed(shared.MoneyPlaces),
	})
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	accountType, err := ParseAccountType(chi.URLParam(r, "type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.Statement(r.Context(), accountType)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp := entryResponse{
			ID:         e.ID,
			Kind:       string(e.Kind),
			SubAccount: string(e.SubAccount),
			Amount:     e.Amount.StringFixed(shared.MoneyPlaces),
			Actor:      e.Actor,
			Note:       e.Note,
			CreatedAt:  e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if e.LinkedSub != nil {
			resp.LinkedSub = string(*e.LinkedSub)
		}
		out = append(out, resp)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	input, err := h.decodeMovement(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.Deposit(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("ledger deposit", slog.String("account", string(input.AccountType)), slog.String("sub", string(input.SubAccount)))
	httpx.JSON(w, http.StatusCreated, toBalanceResponse(balance))
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	input, err := h.decodeMovement(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.Withdraw(r.Context(), WithdrawInput(input))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("ledger withdraw", slog.String("account", string(input.AccountType)), slog.String("sub", string(input.SubAccount)))
	httpx.JSON(w, http.StatusCreated, toBalanceResponse(balance))
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	accountType, err := ParseAccountType(chi.URLParam(r, "type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.RespondError(w, shared.Validationf("invalid amount %q", req.Amount))
		return
	}
	balance, err := h.service.Transfer(r.Context(), TransferInput{
		AccountType: accountType,
		From:        SubAccount(req.From),
		To:          SubAccount(req.To),
		Amount:      amount,
		Actor:       req.Actor,
		Note:        req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBalanceResponse(balance))
}

func (h *Handler) decodeMovement(r *http.Request) (DepositInput, error) {
	accountType, err := ParseAccountType(chi.URLParam(r, "type"))
	if err != nil {
		return DepositInput{}, err
	}
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return DepositInput{}, shared.Validationf("invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return DepositInput{}, shared.Validationf("%s", err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return DepositInput{}, shared.Validationf("invalid amount %q", req.Amount)
	}
	return DepositInput{
		AccountType: accountType,
		SubAccount:  SubAccount(req.SubAccount),
		Amount:      amount,
		Actor:       req.Actor,
		Note:        req.Note,
	}, nil
}

func toBalanceResponse(b Balance) balanceResponse {
	return balanceResponse{
		AccountType: string(b.AccountType),
		SubAccount:  string(b.SubAccount),
		Balance:     b.Amount.StringFixed(shared.MoneyPlaces),
	}
}
