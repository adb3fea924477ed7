package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RespondError maps core failure kinds to HTTP responses using RFC7807.
// Each kind keeps a distinct, readable title so the workflow layer can
// surface it directly.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrSameSubAccount):
		Problem(w, http.StatusUnprocessableEntity, "Same Sub-Account", err.Error())
	case errors.Is(err, shared.ErrInsufficientFunds):
		Problem(w, http.StatusConflict, "Insufficient Funds", err.Error())
	case errors.Is(err, shared.ErrInsufficientLotQty):
		Problem(w, http.StatusConflict, "Insufficient Lot Quantity", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Concurrent Update Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrAtomicityViolation):
		Problem(w, http.StatusInternalServerError, "Atomicity Violation", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
