package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/services"
)

// AdminCheckoutHandlers exposes staff-only inspection of checkout orders.
type AdminCheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewAdminCheckoutHandlers constructs the staff inspection handlers.
func NewAdminCheckoutHandlers(checkout services.CheckoutService) *AdminCheckoutHandlers {
	return &AdminCheckoutHandlers{checkout: checkout}
}

// Routes registers staff endpoints. Authentication is applied by the router group.
func (h *AdminCheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/checkout/orders/{orderID}", h.getOrder)
}

type challengeStatusResponse struct {
	Channel     string `json:"channel"`
	Destination string `json:"destination"`
	IssuedAt    string `json:"issuedAt"`
	ExpiresAt   string `json:"expiresAt"`
	Expired     bool   `json:"expired"`
}

type adminOrderResponse struct {
	Order     orderSummaryResponse     `json:"order"`
	Notes     string                   `json:"notes,omitempty"`
	Phone     string                   `json:"customerPhone,omitempty"`
	Payments  []paymentResponse        `json:"payments"`
	Shipments []shipmentResponse       `json:"shipments"`
	Challenge *challengeStatusResponse `json:"challenge,omitempty"`
}

func (h *AdminCheckoutHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	inspection, err := h.checkout.InspectOrder(ctx, orderID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	resp := adminOrderResponse{
		Order:     newOrderSummaryResponse(services.GuestOrderResult{Order: inspection.Order}),
		Notes:     inspection.Order.Notes,
		Phone:     inspection.Order.CustomerPhone,
		Payments:  make([]paymentResponse, 0, len(inspection.Payments)),
		Shipments: make([]shipmentResponse, 0, len(inspection.Shipments)),
	}
	for _, payment := range inspection.Payments {
		resp.Payments = append(resp.Payments, newPaymentResponse(payment))
	}
	for _, shipment := range inspection.Shipments {
		resp.Shipments = append(resp.Shipments, newShipmentResponse(shipment))
	}
	if c := inspection.Challenge; c != nil {
		resp.Challenge = &challengeStatusResponse{
			Channel:     string(c.Channel),
			Destination: c.MaskedDestination,
			IssuedAt:    formatTime(c.IssuedAt),
			ExpiresAt:   formatTime(c.ExpiresAt),
			Expired:     c.Expired,
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
