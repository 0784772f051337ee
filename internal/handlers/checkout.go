package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/services"
)

const (
	maxCheckoutRequestBody = 32 * 1024
	defaultOTPRequestLimit = 5
	otpRequestWindow       = time.Minute
)

// CheckoutHandlers exposes the guest checkout endpoints. Guests are anonymous, so none of the routes
// require authentication.
type CheckoutHandlers struct {
	checkout   services.CheckoutService
	otpLimiter *otpRequestLimiter
}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*checkoutHandlerConfig)

type checkoutHandlerConfig struct {
	otpLimit  int
	otpWindow time.Duration
	clock     func() time.Time
}

// WithOTPRequestLimit caps request-otp calls per order and client address within window. A non-positive limit disables it.
func WithOTPRequestLimit(limit int, window time.Duration) CheckoutOption {
	return func(cfg *checkoutHandlerConfig) {
		cfg.otpLimit = limit
		if window > 0 {
			cfg.otpWindow = window
		}
	}
}

// WithCheckoutClock overrides the limiter clock.
func WithCheckoutClock(clock func() time.Time) CheckoutOption {
	return func(cfg *checkoutHandlerConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// NewCheckoutHandlers constructs guest checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	cfg := checkoutHandlerConfig{
		otpLimit:  defaultOTPRequestLimit,
		otpWindow: otpRequestWindow,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &CheckoutHandlers{
		checkout:   checkout,
		otpLimiter: newOTPRequestLimiter(cfg.otpLimit, cfg.otpWindow, cfg.clock),
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders", h.createOrder)
	r.Post("/orders/confirm", h.confirmOrder)
	r.Post("/orders/confirm-with-otp", h.confirmOrderWithOTP)
	r.Post("/orders/{orderID}/request-otp", h.requestOTP)
	r.Post("/orders/{orderID}/verify-otp", h.verifyOTP)
	r.Post("/orders/{orderID}/skip-verify", h.skipVerify)
	r.Post("/stock-check", h.stockCheck)
}

type guestOrderItemRequest struct {
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName"`
	Size        string      `json:"size"`
	Quantity    int         `json:"quantity"`
	Price       json.Number `json:"price"`
}

type shipmentDetailsRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

type paymentDetailsRequest struct {
	Type            string `json:"type"`
	Status          string `json:"status"`
	PaymentIntentID string `json:"paymentIntentId"`
}

type guestOrderRequest struct {
	Items           []guestOrderItemRequest `json:"items"`
	ShipmentDetails *shipmentDetailsRequest `json:"shipmentDetails"`
	Payment         *paymentDetailsRequest  `json:"payment"`
	TotalAmount     json.Number             `json:"totalAmount"`
}

type orderLineResponse struct {
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName"`
	Size        string      `json:"size,omitempty"`
	Quantity    int         `json:"quantity"`
	Price       json.Number `json:"price"`
}

type paymentResponse struct {
	ID          string      `json:"id"`
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	Method      string      `json:"method"`
	Status      string      `json:"status"`
	Notes       string      `json:"notes,omitempty"`
	ProviderRef string      `json:"providerRef,omitempty"`
	CreatedAt   string      `json:"createdAt"`
}

type shipmentResponse struct {
	ID              string `json:"id"`
	VendorID        string `json:"vendorId,omitempty"`
	TrackingNumber  string `json:"trackingNumber"`
	Status          string `json:"status"`
	ShippingAddress string `json:"shippingAddress"`
	Notes           string `json:"notes,omitempty"`
	CreatedAt       string `json:"createdAt"`
}

type orderSummaryResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	Status          string              `json:"status"`
	TotalAmount     json.Number         `json:"totalAmount"`
	Currency        string              `json:"currency"`
	CustomerName    string              `json:"customerName"`
	CustomerEmail   string              `json:"customerEmail,omitempty"`
	ShippingAddress string              `json:"shippingAddress"`
	Lines           []orderLineResponse `json:"lines"`
	CreatedAt       string              `json:"createdAt"`
	ConfirmedAt     string              `json:"confirmedAt,omitempty"`
	Payment         *paymentResponse    `json:"payment,omitempty"`
	Shipment        *shipmentResponse   `json:"shipment,omitempty"`
}

type otpAcceptedResponse struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Channel     string `json:"channel"`
	SentTo      string `json:"sentTo"`
	ExpiresAt   string `json:"expiresAt"`
}

type otpRequest struct {
	Channel     string `json:"channel"`
	Destination string `json:"destination"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
	Code        string `json:"code"`
	OTP         string `json:"otp"`
}

// destination picks the first supplied destination for issuing a code.
func (r otpRequest) destination() string {
	return strings.TrimSpace(r.rawDestination())
}

// rawDestination is compared byte for byte against the issued destination, so it is not normalised.
func (r otpRequest) rawDestination() string {
	for _, candidate := range []string{r.Destination, r.PhoneNumber, r.Email} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

func (r otpRequest) code() string {
	if code := strings.TrimSpace(r.Code); code != "" {
		return code
	}
	return strings.TrimSpace(r.OTP)
}

type otpMessageResponse struct {
	Message   string `json:"message"`
	OrderID   string `json:"orderId"`
	Status    string `json:"status,omitempty"`
	Channel   string `json:"channel,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

type stockIssueResponse struct {
	ProductID         string `json:"productId"`
	ProductName       string `json:"productName"`
	RequestedQuantity int    `json:"requestedQuantity"`
	AvailableStock    int    `json:"availableStock"`
	Error             string `json:"error,omitempty"`
}

type stockCheckResponse struct {
	Available bool                 `json:"available"`
	Issues    []stockIssueResponse `json:"issues"`
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.decodeGuestOrder(w, r)
	if !ok {
		return
	}
	result, err := h.checkout.CreateGuestOrder(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newOrderSummaryResponse(result))
}

func (h *CheckoutHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.decodeGuestOrder(w, r)
	if !ok {
		return
	}
	result, err := h.checkout.ConfirmGuestOrder(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newOrderSummaryResponse(result))
}

func (h *CheckoutHandlers) confirmOrderWithOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.decodeGuestOrder(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	channel := domain.NotificationChannel(strings.TrimSpace(query.Get("channel")))
	destination := strings.TrimSpace(query.Get("destination"))

	result, err := h.checkout.ConfirmGuestOrderWithOTP(ctx, cmd, channel, destination)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, otpAcceptedResponse{
		ID:          result.Order.ID,
		OrderNumber: result.Order.OrderNumber,
		Status:      string(result.Order.Status),
		Message:     fmt.Sprintf("Verification code sent via %s", result.Channel),
		Channel:     string(result.Channel),
		SentTo:      result.VerificationSentTo,
		ExpiresAt:   formatTime(result.ExpiresAt),
	})
}

func (h *CheckoutHandlers) requestOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	if allowed, retryAfter := h.allowOTPRequest(orderID, clientAddress(r)); !allowed {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many verification code requests for this order", http.StatusTooManyRequests))
		return
	}

	req, ok := decodeOTPRequest(ctx, w, r)
	if !ok {
		return
	}
	channel := domain.NotificationChannel(strings.TrimSpace(req.Channel))
	if channel == "" {
		channel = domain.NotificationChannel(strings.TrimSpace(r.URL.Query().Get("channel")))
	}

	result, err := h.checkout.RequestOTP(ctx, services.RequestOTPCommand{
		OrderID:     orderID,
		Destination: req.destination(),
		Channel:     channel,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, otpMessageResponse{
		Message:   "OTP requested",
		OrderID:   result.OrderID,
		Channel:   string(result.Channel),
		ExpiresAt: formatTime(result.ExpiresAt),
	})
}

func (h *CheckoutHandlers) verifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	req, ok := decodeOTPRequest(ctx, w, r)
	if !ok {
		return
	}

	result, err := h.checkout.Finalize(ctx, services.FinalizeCommand{
		OrderID:     orderID,
		Destination: req.rawDestination(),
		Code:        req.code(),
	})
	if err != nil {
		writeVerifyError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, otpMessageResponse{
		Message: "OTP verified",
		OrderID: result.Order.ID,
		Status:  string(result.Order.Status),
	})
}

func (h *CheckoutHandlers) skipVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	result, err := h.checkout.FinalizeSkip(ctx, orderID)
	if err != nil {
		if errors.Is(err, services.ErrChallengeNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("verification_not_found", "no pending verification for this order", http.StatusNotFound))
			return
		}
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, otpMessageResponse{
		Message: "Verification skipped",
		OrderID: result.Order.ID,
		Status:  string(result.Order.Status),
	})
}

func (h *CheckoutHandlers) stockCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := readCheckoutBody(ctx, w, r)
	if !ok {
		return
	}
	items, err := decodeStockCheckItems(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	lines, err := cartLinesFromItems(items)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.checkout.CheckStock(ctx, lines)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stockCheckResponse{
		Available: result.Available,
		Issues:    newStockIssues(result.Issues),
	})
}

func (h *CheckoutHandlers) allowOTPRequest(orderID, client string) (bool, time.Duration) {
	return h.otpLimiter.Allow(orderID, client)
}

func (h *CheckoutHandlers) decodeGuestOrder(w http.ResponseWriter, r *http.Request) (services.GuestOrderCommand, bool) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return services.GuestOrderCommand{}, false
	}
	body, ok := readCheckoutBody(ctx, w, r)
	if !ok {
		return services.GuestOrderCommand{}, false
	}

	var req guestOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return services.GuestOrderCommand{}, false
	}

	cmd, err := req.toCommand()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.GuestOrderCommand{}, false
	}
	return cmd, true
}

func (req guestOrderRequest) toCommand() (services.GuestOrderCommand, error) {
	lines, err := cartLinesFromItems(req.Items)
	if err != nil {
		return services.GuestOrderCommand{}, err
	}
	total, err := domain.ParseAmount(req.TotalAmount.String())
	if err != nil {
		return services.GuestOrderCommand{}, fmt.Errorf("totalAmount: %w", err)
	}

	cmd := services.GuestOrderCommand{Lines: lines, TotalAmount: total}
	if s := req.ShipmentDetails; s != nil {
		cmd.Shipment = &domain.ShipmentDetails{
			Name:       s.Name,
			Email:      s.Email,
			Phone:      s.Phone,
			Address:    s.Address,
			City:       s.City,
			PostalCode: s.PostalCode,
		}
	}
	if p := req.Payment; p != nil {
		cmd.Payment = &domain.PaymentDetails{
			Type:     p.Type,
			Status:   p.Status,
			IntentID: p.PaymentIntentID,
		}
	}
	return cmd, nil
}

func cartLinesFromItems(items []guestOrderItemRequest) ([]domain.CartLine, error) {
	if len(items) == 0 {
		return nil, errors.New("items must not be empty")
	}
	lines := make([]domain.CartLine, 0, len(items))
	for i, item := range items {
		price, err := domain.ParseAmount(item.Price.String())
		if err != nil {
			return nil, fmt.Errorf("items[%d].price: %w", i, err)
		}
		lines = append(lines, domain.CartLine{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Size:        item.Size,
			Quantity:    item.Quantity,
			UnitPrice:   price,
		})
	}
	return lines, nil
}

// decodeStockCheckItems accepts either {"items": [...]} or a bare array.
func decodeStockCheckItems(body []byte) ([]guestOrderItemRequest, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var items []guestOrderItemRequest
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, errors.New("request body must be valid JSON")
		}
		return items, nil
	}
	var req struct {
		Items []guestOrderItemRequest `json:"items"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New("request body must be valid JSON")
	}
	return req.Items, nil
}

func decodeOTPRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (otpRequest, bool) {
	body, err := readOptionalBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return otpRequest{}, false
	}
	var req otpRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return otpRequest{}, false
		}
	}
	return req, true
}

func readCheckoutBody(ctx context.Context, w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return nil, false
	}
	return body, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
}

func newOrderSummaryResponse(result services.GuestOrderResult) orderSummaryResponse {
	order := result.Order
	lines := make([]orderLineResponse, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineResponse{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Size:        line.Size,
			Quantity:    line.Quantity,
			Price:       amount(line.UnitPrice),
		})
	}
	resp := orderSummaryResponse{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		Status:          string(order.Status),
		TotalAmount:     amount(order.TotalAmount),
		Currency:        order.Currency,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		ShippingAddress: order.ShippingAddress,
		Lines:           lines,
		CreatedAt:       formatTime(order.CreatedAt),
	}
	if order.ConfirmedAt != nil {
		resp.ConfirmedAt = formatTime(*order.ConfirmedAt)
	}
	if result.Payment != nil {
		payment := newPaymentResponse(*result.Payment)
		resp.Payment = &payment
	}
	if result.Shipment != nil {
		shipment := newShipmentResponse(*result.Shipment)
		resp.Shipment = &shipment
	}
	return resp
}

func newPaymentResponse(p domain.Payment) paymentResponse {
	return paymentResponse{
		ID:          p.ID,
		Amount:      amount(p.Amount),
		Currency:    p.Currency,
		Method:      p.Method,
		Status:      p.Status,
		Notes:       p.Notes,
		ProviderRef: p.ProviderRef,
		CreatedAt:   formatTime(p.CreatedAt),
	}
}

func newShipmentResponse(s domain.Shipment) shipmentResponse {
	return shipmentResponse{
		ID:              s.ID,
		VendorID:        s.VendorID,
		TrackingNumber:  s.TrackingNumber,
		Status:          s.Status,
		ShippingAddress: s.ShippingAddress,
		Notes:           s.Notes,
		CreatedAt:       formatTime(s.CreatedAt),
	}
}

func newStockIssues(shortfalls []domain.StockShortfall) []stockIssueResponse {
	issues := make([]stockIssueResponse, 0, len(shortfalls))
	for _, s := range shortfalls {
		issue := stockIssueResponse{
			ProductID:         s.ProductID,
			ProductName:       s.ProductName,
			RequestedQuantity: s.RequestedQuantity,
			AvailableStock:    s.AvailableStock,
		}
		if s.NotFound {
			issue.Error = "Product not found"
		}
		issues = append(issues, issue)
	}
	return issues
}

func amount(minor int64) json.Number {
	return json.Number(domain.FormatAmount(minor))
}

func writeVerifyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrChallengeExpired):
		httpx.WriteError(ctx, w, httpx.NewError("otp_expired", "verification code has expired", http.StatusBadRequest))
	case errors.Is(err, services.ErrChallengeNotFound), errors.Is(err, services.ErrChallengeMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("otp_invalid", "invalid verification code", http.StatusBadRequest))
	default:
		writeCheckoutError(ctx, w, err)
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var conflict *services.StockConflictError
	switch {
	case errors.As(err, &conflict):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "one or more items are out of stock", http.StatusConflict).
			WithDetails(map[string]any{
				"stockErrors": conflict.Messages(),
				"issues":      newStockIssues(conflict.Shortfalls),
			}))
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrChallengeInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutNotAwaitingVerification):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_awaiting_verification", "order is not awaiting verification", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_timeout", "checkout request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
