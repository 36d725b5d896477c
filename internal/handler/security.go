package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-checkout/internal/domain/auth"
	"github.com/xenking/kitchen-checkout/pkg/httpmiddleware"
)

// Authenticate requires a valid "Authorization: Bearer <token>" header and
// stores the staff claims in the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := h.tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			zctx.From(r.Context()).Debug("Token rejected", zap.Error(err))
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}

		ctx := auth.WithClaims(r.Context(), claims)
		ctx = zctx.With(ctx, zap.String("staff_id", claims.StaffID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
