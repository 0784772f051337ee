package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	defaultCheckoutCurrency = "USD"
	defaultChallengeTTL     = 5 * time.Minute

	defaultPaymentMethod = "unknown"
	defaultPaymentStatus = "PENDING"
	shipmentStatusNew    = "pending"

	paymentNoteImmediate = "Guest checkout"
	paymentNoteVerified  = "Guest OTP confirmation"
	paymentNoteSkipped   = "Guest skipped OTP confirmation"

	maxNameLength    = 120
	maxAddressLength = 300
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutStockConflict indicates one or more lines could not be reserved.
	ErrCheckoutStockConflict = errors.New("checkout: stock conflict")
	// ErrCheckoutOrderNotFound indicates the referenced order does not exist.
	ErrCheckoutOrderNotFound = errors.New("checkout: order not found")
	// ErrCheckoutNotAwaitingVerification indicates the order is not in PendingVerification.
	ErrCheckoutNotAwaitingVerification = errors.New("checkout: order is not awaiting verification")
	// ErrCheckoutConflict indicates a concurrent modification prevented completing the request.
	ErrCheckoutConflict = errors.New("checkout: conflict")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

var checkoutTracer = otel.Tracer("github.com/hanko-field/checkout/internal/services")

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Inventory     InventoryService
	Orders        OrderService
	Payments      repositories.PaymentRepository
	Shipments     repositories.ShipmentRepository
	Vendors       repositories.ShippingVendorRepository
	Challenges    ChallengeRegistry
	Notifier      NotificationDispatcher
	PaymentStatus PaymentStatusResolver
	Metrics       CheckoutMetrics
	Currency      string
	ChallengeTTL  time.Duration
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	inventory     InventoryService
	orders        OrderService
	payments      repositories.PaymentRepository
	shipments     repositories.ShipmentRepository
	vendors       repositories.ShippingVendorRepository
	challenges    ChallengeRegistry
	notifier      NotificationDispatcher
	paymentStatus PaymentStatusResolver
	metrics       CheckoutMetrics
	currency      string
	challengeTTL  time.Duration
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Inventory == nil:
		return nil, errors.New("checkout service: inventory service is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order service is required")
	case deps.Payments == nil:
		return nil, errors.New("checkout service: payment repository is required")
	case deps.Shipments == nil:
		return nil, errors.New("checkout service: shipment repository is required")
	case deps.Vendors == nil:
		return nil, errors.New("checkout service: vendor repository is required")
	case deps.Challenges == nil:
		return nil, errors.New("checkout service: challenge registry is required")
	case deps.Notifier == nil:
		return nil, errors.New("checkout service: notification dispatcher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopCheckoutMetrics{}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	ttl := deps.ChallengeTTL
	if ttl <= 0 {
		ttl = defaultChallengeTTL
	}

	return &checkoutService{
		inventory:     deps.Inventory,
		orders:        deps.Orders,
		payments:      deps.Payments,
		shipments:     deps.Shipments,
		vendors:       deps.Vendors,
		challenges:    deps.Challenges,
		notifier:      deps.Notifier,
		paymentStatus: deps.PaymentStatus,
		metrics:       metrics,
		currency:      currency,
		challengeTTL:  ttl,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *checkoutService) CheckStock(ctx context.Context, lines []CartLine) (result StockCheckResult, err error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.CheckStock")
	defer func() { endSpan(span, err) }()

	cleaned, err := normaliseCartLines(lines)
	if err != nil {
		return StockCheckResult{}, err
	}
	shortfalls, err := s.inventory.CheckAvailability(ctx, cleaned)
	if err != nil {
		return StockCheckResult{}, s.mapInventoryError(ctx, err)
	}
	return StockCheckResult{Available: len(shortfalls) == 0, Issues: shortfalls}, nil
}

func (s *checkoutService) CreateGuestOrder(ctx context.Context, cmd GuestOrderCommand) (result GuestOrderResult, err error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.CreateGuestOrder")
	defer func() { endSpan(span, err) }()

	order, _, _, err := s.placeOrder(ctx, cmd, domain.OrderStatusPending)
	if err != nil {
		return GuestOrderResult{}, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	s.notifier.SendOrderConfirmation(ctx, order)
	return GuestOrderResult{Order: order}, nil
}

func (s *checkoutService) ConfirmGuestOrder(ctx context.Context, cmd GuestOrderCommand) (result GuestOrderResult, err error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.ConfirmGuestOrder")
	defer func() { endSpan(span, err) }()

	order, payload, reservation, err := s.placeOrder(ctx, cmd, domain.OrderStatusPending)
	if err != nil {
		return GuestOrderResult{}, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	finalized, err := s.materialize(ctx, order, payload, paymentNoteImmediate, domain.OrderStatusPending)
	if err != nil {
		s.abandon(ctx, order.ID, reservation, err)
		return GuestOrderResult{}, err
	}

	s.notifier.SendOrderConfirmation(ctx, finalized.Order)
	return GuestOrderResult{
		Order:    finalized.Order,
		Payment:  &finalized.Payment,
		Shipment: &finalized.Shipment,
	}, nil
}

func (s *checkoutService) ConfirmGuestOrderWithOTP(ctx context.Context, cmd GuestOrderCommand, channel NotificationChannel, destination string) (result GuestOrderResult, err error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.ConfirmGuestOrderWithOTP")
	defer func() { endSpan(span, err) }()

	channel, err = normaliseChannel(channel)
	if err != nil {
		return GuestOrderResult{}, err
	}
	if cmd.Shipment != nil && destination == "" {
		destination = defaultDestination(channel, cmd.Shipment.Email, cmd.Shipment.Phone)
	}
	if destination == "" {
		return GuestOrderResult{}, fmt.Errorf("%w: a %s destination is required for verification", ErrCheckoutInvalidInput, channel)
	}

	order, payload, _, err := s.placeOrder(ctx, cmd, domain.OrderStatusPendingVerification)
	if err != nil {
		return GuestOrderResult{}, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("otp.channel", string(channel)))

	challenge, err := s.challenges.Issue(ctx, IssueChallengeCommand{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Destination: destination,
		Channel:     channel,
		TTL:         s.challengeTTL,
		Payload:     payload,
	})
	if err != nil {
		s.logger(ctx, "checkout.challenge_issue_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return GuestOrderResult{}, fmt.Errorf("%w: issue verification code: %v", ErrCheckoutUnavailable, err)
	}

	return GuestOrderResult{
		Order:              order,
		VerificationSentTo: observability.MaskDestination(destination),
		Channel:            challenge.Channel,
		ExpiresAt:          challenge.ExpiresAt,
	}, nil
}

func (s *checkoutService) RequestOTP(ctx context.Context, cmd RequestOTPCommand) (result RequestOTPResult, err error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.RequestOTP", trace.WithAttributes(attribute.String("order.id", cmd.OrderID)))
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RequestOTPResult{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}
	channel, err := normaliseChannel(cmd.Channel)
	if err != nil {
		return RequestOTPResult{}, err
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return RequestOTPResult{}, s.mapOrderError(err)
	}
	if order.Status != domain.OrderStatusPendingVerification {
		return RequestOTPResult{}, fmt.Errorf("%w: order %s is %s", ErrCheckoutNotAwaitingVerification, order.ID, order.Status)
	}

	destination := cmd.Destination
	if destination == "" {
		destination = defaultDestination(channel, order.CustomerEmail, order.CustomerPhone)
	}
	if destination == "" {
		return RequestOTPResult{}, fmt.Errorf("%w: a %s destination is required for verification", ErrCheckoutInvalidInput, channel)
	}

	payload := payloadFromOrder(order)
	if existing, ok := s.challenges.Peek(order.ID); ok && existing.Payload != nil {
		payload = existing.Payload
	}

	challenge, err := s.challenges.Issue(ctx, IssueChallengeCommand{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Destination: destination,
		Channel:     channel,
		TTL:         s.challengeTTL,
		Payload:     payload,
	})
	if err != nil {
		return RequestOTPResult{}, fmt.Errorf("%w: issue verification code: %v", ErrCheckoutUnavailable, err)
	}

	// A verification may have finalized the order between the status check and Issue.
	current, err := s.orders.Get(ctx, order.ID)
	if err == nil && current.Status != domain.OrderStatusPendingVerification {
		s.challenges.Revoke(order.ID, challenge.Code)
		s.logger(ctx, "checkout.challenge_revoked", map[string]any{"orderId": order.ID, "status": string(current.Status)})
		return RequestOTPResult{}, fmt.Errorf("%w: order %s is %s", ErrCheckoutNotAwaitingVerification, order.ID, current.Status)
	}
	return RequestOTPResult{OrderID: order.ID, Channel: challenge.Channel, ExpiresAt: challenge.ExpiresAt}, nil
}

func (s *checkoutService) Finalize(ctx context.Context, cmd FinalizeCommand) (result FinalizeResult, err error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.Finalize", trace.WithAttributes(attribute.String("order.id", cmd.OrderID)))
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return FinalizeResult{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.Code) == "" {
		return FinalizeResult{}, fmt.Errorf("%w: code is required", ErrCheckoutInvalidInput)
	}

	verification, err := s.challenges.Verify(ctx, orderID, cmd.Destination, cmd.Code)
	if err != nil {
		return FinalizeResult{}, err
	}
	span.SetAttributes(attribute.String("otp.outcome", string(verification.Outcome)))

	switch verification.Outcome {
	case VerifyOutcomeNotFound:
		return FinalizeResult{}, fmt.Errorf("%w: no verification pending for order %s", ErrChallengeNotFound, orderID)
	case VerifyOutcomeMismatch:
		return FinalizeResult{}, ErrChallengeMismatch
	case VerifyOutcomeExpired:
		s.expire(ctx, orderID)
		return FinalizeResult{}, fmt.Errorf("%w: verification code for order %s expired at %s", ErrChallengeExpired, orderID, verification.Challenge.ExpiresAt.Format(time.RFC3339))
	}

	return s.finalizeConsumed(ctx, orderID, verification.Challenge, paymentNoteVerified)
}

func (s *checkoutService) FinalizeSkip(ctx context.Context, orderID string) (result FinalizeResult, err error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.FinalizeSkip", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return FinalizeResult{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}
	challenge, ok := s.challenges.Skip(ctx, orderID)
	if !ok {
		return FinalizeResult{}, fmt.Errorf("%w: no verification pending for order %s", ErrChallengeNotFound, orderID)
	}
	return s.finalizeConsumed(ctx, orderID, challenge, paymentNoteSkipped)
}

func (s *checkoutService) InspectOrder(ctx context.Context, orderID string) (OrderInspection, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return OrderInspection{}, s.mapOrderError(err)
	}
	payments, err := s.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return OrderInspection{}, s.mapPersistenceError("list payments", err)
	}
	shipments, err := s.shipments.ListByOrder(ctx, order.ID)
	if err != nil {
		return OrderInspection{}, s.mapPersistenceError("list shipments", err)
	}
	inspection := OrderInspection{Order: order, Payments: payments, Shipments: shipments}
	if status, ok := s.challenges.Pending(order.ID); ok {
		inspection.Challenge = &status
	}
	return inspection, nil
}

func (s *checkoutService) SweepChallenges(ctx context.Context) (int, error) {
	removed := s.challenges.Sweep(s.now())
	s.logger(ctx, "checkout.challenges_swept", map[string]any{"removed": removed})
	return removed, nil
}

// placeOrder validates the command, reserves stock and persists the order header. Reserved stock is
// released when the order cannot be persisted.
func (s *checkoutService) placeOrder(ctx context.Context, cmd GuestOrderCommand, status OrderStatus) (Order, *CheckoutPayload, StockReservation, error) {
	lines, err := normaliseCartLines(cmd.Lines)
	if err != nil {
		return Order{}, nil, StockReservation{}, err
	}
	shipment, err := normaliseShipment(cmd.Shipment)
	if err != nil {
		return Order{}, nil, StockReservation{}, err
	}
	payment := normalisePayment(cmd.Payment)

	total := cmd.TotalAmount
	if total < 0 {
		return Order{}, nil, StockReservation{}, fmt.Errorf("%w: total amount must not be negative", ErrCheckoutInvalidInput)
	}
	if total == 0 {
		for _, line := range lines {
			total += line.Total()
		}
	}

	reservation, err := s.inventory.Reserve(ctx, lines)
	if err != nil {
		return Order{}, nil, StockReservation{}, s.mapInventoryError(ctx, err)
	}

	order, err := s.orders.Create(ctx, CreateOrderCommand{
		Lines:           lines,
		CustomerName:    shipment.Name,
		CustomerEmail:   shipment.Email,
		CustomerPhone:   shipment.Phone,
		ShippingAddress: composeShippingAddress(shipment),
		Notes:           composeOrderNotes(payment, shipment),
		TotalAmount:     total,
		Currency:        s.currency,
		Status:          status,
	})
	if err != nil {
		if releaseErr := s.inventory.Release(ctx, reservation); releaseErr != nil {
			s.logger(ctx, "checkout.release_failed", map[string]any{"error": releaseErr.Error()})
		}
		return Order{}, nil, StockReservation{}, s.mapOrderError(err)
	}
	s.metrics.RecordOrder(ctx, order.Status)

	payload := &CheckoutPayload{
		Shipment:    shipment,
		Payment:     payment,
		TotalAmount: total,
		Currency:    s.currency,
	}
	return order, payload, reservation, nil
}

func (s *checkoutService) finalizeConsumed(ctx context.Context, orderID string, challenge Challenge, note string) (FinalizeResult, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		s.restoreChallenge(ctx, challenge)
		return FinalizeResult{}, s.mapOrderError(err)
	}
	payload := challenge.Payload
	if payload == nil {
		payload = payloadFromOrder(order)
	}
	result, err := s.materialize(ctx, order, payload, note, domain.OrderStatusPendingVerification)
	if err != nil {
		if !errors.Is(err, ErrCheckoutConflict) {
			s.restoreChallenge(ctx, challenge)
		}
		return FinalizeResult{}, err
	}
	s.notifier.SendOrderConfirmation(ctx, result.Order)
	return result, nil
}

// restoreChallenge puts a consumed challenge back after a failed finalization so the shopper can retry
// with the same code.
func (s *checkoutService) restoreChallenge(ctx context.Context, challenge Challenge) {
	if !s.challenges.Restore(ctx, challenge) {
		s.logger(ctx, "checkout.challenge_restore_skipped", map[string]any{"orderId": challenge.OrderID})
	}
}

// abandon cancels an order whose immediate confirmation failed and returns its stock.
func (s *checkoutService) abandon(ctx context.Context, orderID string, reservation StockReservation, cause error) {
	if errors.Is(cause, ErrCheckoutConflict) {
		return
	}
	expected := domain.OrderStatusPending
	if _, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        orderID,
		TargetStatus:   domain.OrderStatusCancelled,
		ExpectedStatus: &expected,
		Reason:         "confirmation failed",
	}); err != nil {
		s.logger(ctx, "checkout.cancel_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return
	}
	s.metrics.RecordOrder(ctx, domain.OrderStatusCancelled)
	if err := s.inventory.Release(ctx, reservation); err != nil {
		s.logger(ctx, "checkout.release_failed", map[string]any{"orderId": orderID, "error": err.Error()})
	}
}

// materialize builds the payment and shipment for an order and confirms it in one repository call. Both
// records carry ids derived from the order id so a repeated attempt cannot duplicate them. Vendor lookup
// failures leave the shipment vendor blank.
func (s *checkoutService) materialize(ctx context.Context, order Order, payload *CheckoutPayload, note string, from OrderStatus) (FinalizeResult, error) {
	if order.Status != from {
		return FinalizeResult{}, fmt.Errorf("%w: order %s is %s", ErrCheckoutConflict, order.ID, order.Status)
	}
	now := s.now()

	method, status, providerRef := defaultPaymentMethod, defaultPaymentStatus, ""
	if payload.Payment != nil {
		if payload.Payment.Type != "" {
			method = payload.Payment.Type
		}
		if payload.Payment.Status != "" {
			status = payload.Payment.Status
		}
		providerRef = payload.Payment.IntentID
	}
	if providerRef != "" && s.paymentStatus != nil {
		live, err := s.paymentStatus.ResolveStatus(ctx, providerRef)
		if err != nil {
			s.logger(ctx, "checkout.payment_status_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		} else if live != "" {
			status = live
		}
	}

	amount := payload.TotalAmount
	if amount == 0 {
		amount = order.TotalAmount
	}
	currency := payload.Currency
	if currency == "" {
		currency = order.Currency
	}

	payment := Payment{
		ID:          ensurePrefixedID("pay_", order.ID),
		OrderID:     order.ID,
		Amount:      amount,
		Currency:    currency,
		Method:      method,
		Status:      status,
		Notes:       note,
		ProviderRef: providerRef,
		CreatedAt:   now,
	}

	address := order.ShippingAddress
	var phone string
	if payload.Shipment != nil {
		if composed := composeShippingAddress(payload.Shipment); composed != "" {
			address = composed
		}
		phone = payload.Shipment.Phone
	}
	shipment := Shipment{
		ID:              ensurePrefixedID("shp_", order.ID),
		OrderID:         order.ID,
		VendorID:        s.firstVendor(ctx, order.ID),
		TrackingNumber:  "",
		Status:          shipmentStatusNew,
		ShippingAddress: address,
		Notes:           phone,
		CreatedAt:       now,
	}

	confirmed, err := s.orders.Confirm(ctx, ConfirmOrderCommand{
		OrderID:        order.ID,
		ExpectedStatus: from,
		Payment:        payment,
		Shipment:       shipment,
		Reason:         note,
	})
	if err != nil {
		s.logger(ctx, "checkout.confirm_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return FinalizeResult{}, s.mapOrderError(err)
	}
	s.metrics.RecordOrder(ctx, confirmed.Status)
	return FinalizeResult{Order: confirmed, Payment: payment, Shipment: shipment}, nil
}

func (s *checkoutService) firstVendor(ctx context.Context, orderID string) string {
	vendors, err := s.vendors.ListActive(ctx)
	if err != nil {
		s.logger(ctx, "checkout.vendor_lookup_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return ""
	}
	if len(vendors) == 0 {
		return ""
	}
	return vendors[0].ID
}

func (s *checkoutService) expire(ctx context.Context, orderID string) {
	expected := domain.OrderStatusPendingVerification
	_, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        orderID,
		TargetStatus:   domain.OrderStatusNotVerified,
		ExpectedStatus: &expected,
		Reason:         "verification expired",
	})
	if err != nil {
		s.logger(ctx, "checkout.expire_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return
	}
	s.metrics.RecordOrder(ctx, domain.OrderStatusNotVerified)
}

func (s *checkoutService) mapInventoryError(ctx context.Context, err error) error {
	var conflict *StockConflictError
	switch {
	case errors.As(err, &conflict):
		s.metrics.RecordStockConflict(ctx, len(conflict.Shortfalls))
		return conflict
	case errors.Is(err, ErrInventoryInvalidInput):
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	return s.mapPersistenceError("inventory", err)
}

func (s *checkoutService) mapOrderError(err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return fmt.Errorf("%w: %v", ErrCheckoutOrderNotFound, err)
	case errors.Is(err, ErrOrderInvalidInput):
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	case errors.Is(err, ErrOrderConflict), errors.Is(err, ErrOrderInvalidTransition):
		return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
	case errors.Is(err, ErrOrderUnavailable):
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	return err
}

func (s *checkoutService) mapPersistenceError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %s: %v", ErrCheckoutUnavailable, op, err)
	}
	return fmt.Errorf("checkout: %s: %w", op, err)
}

func normaliseCartLines(lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}
	out := make([]CartLine, 0, len(lines))
	for i, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: line %d: product id is required", ErrCheckoutInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d: quantity must be positive", ErrCheckoutInvalidInput, i)
		}
		if line.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: line %d: price must not be negative", ErrCheckoutInvalidInput, i)
		}
		line.ProductName = sanitizeText(line.ProductName, maxNameLength)
		line.Size = sanitizeText(line.Size, 32)
		out = append(out, line)
	}
	return out, nil
}

func normaliseShipment(details *ShipmentDetails) (*ShipmentDetails, error) {
	if details == nil {
		return nil, fmt.Errorf("%w: shipment details are required", ErrCheckoutInvalidInput)
	}
	cleaned := &ShipmentDetails{
		Name:       sanitizeText(details.Name, maxNameLength),
		Email:      strings.TrimSpace(details.Email),
		Phone:      strings.TrimSpace(details.Phone),
		Address:    sanitizeText(details.Address, maxAddressLength),
		City:       sanitizeText(details.City, maxNameLength),
		PostalCode: sanitizeText(details.PostalCode, 20),
	}
	if cleaned.Name == "" {
		return nil, fmt.Errorf("%w: shipment name is required", ErrCheckoutInvalidInput)
	}
	if cleaned.Address == "" {
		return nil, fmt.Errorf("%w: shipment address is required", ErrCheckoutInvalidInput)
	}
	if cleaned.Email == "" && cleaned.Phone == "" {
		return nil, fmt.Errorf("%w: an email or phone is required", ErrCheckoutInvalidInput)
	}
	if cleaned.Email != "" && !strings.Contains(cleaned.Email, "@") {
		return nil, fmt.Errorf("%w: email is invalid", ErrCheckoutInvalidInput)
	}
	return cleaned, nil
}

func normalisePayment(details *PaymentDetails) *PaymentDetails {
	if details == nil {
		return nil
	}
	return &PaymentDetails{
		Type:     sanitizeText(details.Type, 40),
		Status:   sanitizeText(details.Status, 40),
		IntentID: strings.TrimSpace(details.IntentID),
	}
}

func normaliseChannel(channel NotificationChannel) (NotificationChannel, error) {
	switch NotificationChannel(strings.ToLower(strings.TrimSpace(string(channel)))) {
	case "", domain.ChannelSMS:
		return domain.ChannelSMS, nil
	case domain.ChannelEmail:
		return domain.ChannelEmail, nil
	}
	return "", fmt.Errorf("%w: unsupported channel %q", ErrCheckoutInvalidInput, channel)
}

func defaultDestination(channel NotificationChannel, email, phone string) string {
	if channel == domain.ChannelEmail {
		return email
	}
	return phone
}

func composeShippingAddress(details *ShipmentDetails) string {
	if details == nil {
		return ""
	}
	locality := strings.TrimSpace(strings.Join([]string{details.City, details.PostalCode}, " "))
	if locality == "" {
		return details.Address
	}
	if details.Address == "" {
		return locality
	}
	return details.Address + ", " + locality
}

func composeOrderNotes(payment *PaymentDetails, shipment *ShipmentDetails) string {
	paymentType := defaultPaymentMethod
	if payment != nil && payment.Type != "" {
		paymentType = payment.Type
	}
	notes := "Payment: " + paymentType
	if shipment != nil && shipment.Phone != "" {
		notes += " | Phone: " + shipment.Phone
	}
	return notes
}

// payloadFromOrder rebuilds a payload from the stored order. The payment method comes back from the notes
// written by composeOrderNotes; status and intent are not stored on the order.
func payloadFromOrder(order Order) *CheckoutPayload {
	payload := &CheckoutPayload{
		Shipment: &ShipmentDetails{
			Name:    order.CustomerName,
			Email:   order.CustomerEmail,
			Phone:   order.CustomerPhone,
			Address: order.ShippingAddress,
		},
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
	}
	if method := paymentMethodFromNotes(order.Notes); method != "" {
		payload.Payment = &PaymentDetails{Type: method}
	}
	return payload
}

func paymentMethodFromNotes(notes string) string {
	rest, ok := strings.CutPrefix(notes, "Payment: ")
	if !ok {
		return ""
	}
	method, _, _ := strings.Cut(rest, " | ")
	return strings.TrimSpace(method)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
