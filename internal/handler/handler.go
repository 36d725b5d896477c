// Package handler exposes the checkout API over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kitchen-checkout/internal/domain/auth"
	"github.com/xenking/kitchen-checkout/internal/domain/catalog"
	"github.com/xenking/kitchen-checkout/internal/domain/order"
	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
	"github.com/xenking/kitchen-checkout/pkg/httpmiddleware"
)

// Orders is the part of *order.Service the handlers drive.
type Orders interface {
	NewDraft(ctx context.Context, req order.NewDraftRequest) (*order.Draft, error)
	Get(ctx context.Context, draftID string) (*order.Draft, error)
	Abandon(ctx context.Context, draftID string) error
	SetLine(ctx context.Context, draftID, itemID string, qty int) (*order.Draft, error)
	RemoveLine(ctx context.Context, draftID, itemID string) (*order.Draft, error)
	ApplyDiscount(ctx context.Context, draftID, code string) (*order.Draft, error)
	ClearDiscount(ctx context.Context, draftID string) (*order.Draft, error)
	RedeemPoints(ctx context.Context, draftID, customerID string, points int64) (*order.Draft, error)
	SetNote(ctx context.Context, draftID, note string) (*order.Draft, error)
	Quote(ctx context.Context, draftID string) (*pricing.PricedOrder, error)
	Submit(ctx context.Context, draftID string) (*pricing.PricedOrder, error)
	GetOrder(ctx context.Context, orderID string) (*pricing.PricedOrder, error)
}

var _ Orders = (*order.Service)(nil)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Handler serves the checkout API.
type Handler struct {
	orders Orders
	menu   catalog.Repository
	tokens TokenVerifier
}

// NewHandler creates a Handler.
func NewHandler(orders Orders, menu catalog.Repository, tokens TokenVerifier) *Handler {
	return &Handler{
		orders: orders,
		menu:   menu,
		tokens: tokens,
	}
}

// Routes returns the API router. Every route except the menu requires a
// staff token.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/menu", h.ListMenu)

	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)

		r.Route("/drafts", func(r chi.Router) {
			r.Post("/", h.CreateDraft)
			r.Route("/{draftID}", func(r chi.Router) {
				r.Get("/", h.GetDraft)
				r.Delete("/", h.AbandonDraft)
				r.Put("/lines/{itemID}", h.SetLine)
				r.Delete("/lines/{itemID}", h.RemoveLine)
				r.Put("/discount", h.ApplyDiscount)
				r.Delete("/discount", h.ClearDiscount)
				r.Put("/loyalty", h.RedeemPoints)
				r.Put("/note", h.SetNote)
				r.Get("/quote", h.Quote)
				r.Post("/submit", h.Submit)
			})
		})
		r.Get("/orders/{orderID}", h.GetOrder)
	})
	return r
}
