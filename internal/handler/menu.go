package handler

import (
	"net/http"

	"github.com/go-faster/errors"
)

// ListMenu returns every menu item, available or not.
func (h *Handler) ListMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.menu.List(r.Context())
	if err != nil {
		writeServiceError(w, r, errors.Wrap(err, "list menu"))
		return
	}
	writeMenu(w, items)
}
