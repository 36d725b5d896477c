package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Quote prices the draft without persisting it.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Quote(r.Context(), chi.URLParam(r, "draftID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// Submit finalizes the draft. Retrying a submission that already succeeded
// returns the same order.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Submit(r.Context(), chi.URLParam(r, "draftID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeOrder(w, http.StatusCreated, o)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}
