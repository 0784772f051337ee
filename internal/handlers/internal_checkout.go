package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/services"
)

// InternalCheckoutHandlers serves maintenance endpoints invoked by Cloud Scheduler.
type InternalCheckoutHandlers struct {
	checkout services.CheckoutService
}

func NewInternalCheckoutHandlers(checkout services.CheckoutService) *InternalCheckoutHandlers {
	return &InternalCheckoutHandlers{checkout: checkout}
}

// Routes registers internal endpoints. The router group applies scheduler OIDC authentication.
func (h *InternalCheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout/challenges/sweep", h.sweepChallenges)
}

type sweepResponse struct {
	Removed     int    `json:"removed"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

func (h *InternalCheckoutHandlers) sweepChallenges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	removed, err := h.checkout.SweepChallenges(ctx)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	resp := sweepResponse{Removed: removed}
	if identity, ok := auth.SchedulerFromContext(ctx); ok && identity != nil {
		resp.RequestedBy = identity.Subject
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
