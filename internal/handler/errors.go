package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-checkout/internal/domain/catalog"
	"github.com/xenking/kitchen-checkout/internal/domain/discount"
	"github.com/xenking/kitchen-checkout/internal/domain/loyalty"
	"github.com/xenking/kitchen-checkout/internal/domain/order"
	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
	"github.com/xenking/kitchen-checkout/pkg/httpmiddleware"
)

func writeBadRequest(w http.ResponseWriter, err error) {
	httpmiddleware.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
}

// writeServiceError maps domain errors to responses. Unknown errors are
// logged and answered with 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		lineErr       *pricing.InvalidLineItemError
		unavailable   *order.ItemUnavailableError
		transitionErr *order.TransitionError
		ineligible    *discount.IneligibleError
		balanceErr    *loyalty.InsufficientBalanceError
		invariantErr  *pricing.InvariantError
		submitErr     *order.SubmissionError
	)
	switch {
	case errors.As(err, &ineligible):
		writeIneligible(w, ineligible)
	case errors.As(err, &balanceErr):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, "insufficient_points", balanceErr.Error())
	case errors.As(err, &lineErr), errors.As(err, &unavailable):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, "invalid_line", err.Error())
	case errors.As(err, &transitionErr), errors.Is(err, pricing.ErrEmptyOrder):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, "invalid_state", err.Error())
	case errors.Is(err, loyalty.ErrInvalidPoints), errors.Is(err, loyalty.ErrAccountNotFound):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, "invalid_loyalty", err.Error())
	case errors.Is(err, order.ErrDraftNotFound), errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrLineNotFound), errors.Is(err, catalog.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, order.ErrDraftBusy), errors.Is(err, order.ErrDraftConflict):
		w.Header().Set("Retry-After", "1")
		httpmiddleware.WriteError(w, http.StatusConflict, "draft_busy", err.Error())
	case errors.Is(err, order.ErrDraftClosed), errors.Is(err, order.ErrCustomerMismatch):
		httpmiddleware.WriteError(w, http.StatusConflict, "conflict", err.Error())
	case order.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "unavailable", "order store unavailable, retry later")
	case errors.As(err, &invariantErr), errors.As(err, &submitErr):
		zctx.From(r.Context()).Error("Order rejected", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, "submission_failed", err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful can be written.
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func writeIneligible(w http.ResponseWriter, ineligible *discount.IneligibleError) {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("code")
	e.Str("discount_ineligible")
	e.FieldStart("message")
	e.Str(ineligible.Error())
	e.FieldStart("reason")
	e.Str(string(ineligible.Reason))
	e.ObjEnd()
	writeJSON(w, http.StatusUnprocessableEntity, e)
}
