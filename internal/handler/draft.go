package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kitchen-checkout/internal/domain/auth"
	"github.com/xenking/kitchen-checkout/internal/domain/order"
)

// CreateDraft opens a draft. The body is optional.
func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	in := order.NewDraftRequest{
		Category:   req.Category,
		CustomerID: req.CustomerID,
		Note:       req.Note,
	}
	if claims, ok := auth.FromContext(r.Context()); ok {
		in.CreatedBy = claims.StaffID
	}

	d, err := h.orders.NewDraft(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeDraft(w, http.StatusCreated, d)
}

func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.orders.Get(r.Context(), chi.URLParam(r, "draftID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeDraft(w, http.StatusOK, d)
}

func (h *Handler) AbandonDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Abandon(r.Context(), chi.URLParam(r, "draftID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetLine sets the quantity of a menu item on the draft.
func (h *Handler) SetLine(w http.ResponseWriter, r *http.Request) {
	var req setLineRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	d, err := h.orders.SetLine(r.Context(), chi.URLParam(r, "draftID"), chi.URLParam(r, "itemID"), req.Quantity)
	h.respondDraft(w, r, d, err)
}

func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	d, err := h.orders.RemoveLine(r.Context(), chi.URLParam(r, "draftID"), chi.URLParam(r, "itemID"))
	h.respondDraft(w, r, d, err)
}

// ApplyDiscount applies a discount code. An ineligible code answers 422
// with the rejection reason; the draft keeps its previous discount.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req applyDiscountRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	d, err := h.orders.ApplyDiscount(r.Context(), chi.URLParam(r, "draftID"), req.Code)
	h.respondDraft(w, r, d, err)
}

func (h *Handler) ClearDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := h.orders.ClearDiscount(r.Context(), chi.URLParam(r, "draftID"))
	h.respondDraft(w, r, d, err)
}

// RedeemPoints requests a loyalty redemption. Zero points removes it.
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	d, err := h.orders.RedeemPoints(r.Context(), chi.URLParam(r, "draftID"), req.CustomerID, req.Points)
	h.respondDraft(w, r, d, err)
}

func (h *Handler) SetNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	d, err := h.orders.SetNote(r.Context(), chi.URLParam(r, "draftID"), req.Note)
	h.respondDraft(w, r, d, err)
}

func (h *Handler) respondDraft(w http.ResponseWriter, r *http.Request, d *order.Draft, err error) {
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeDraft(w, http.StatusOK, d)
}
