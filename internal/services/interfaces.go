package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	CartLine            = domain.CartLine
	Payment             = domain.Payment
	Shipment            = domain.Shipment
	ShippingVendor      = domain.ShippingVendor
	Challenge           = domain.Challenge
	CheckoutPayload     = domain.CheckoutPayload
	ShipmentDetails     = domain.ShipmentDetails
	PaymentDetails      = domain.PaymentDetails
	StockShortfall      = domain.StockShortfall
	NotificationChannel = domain.NotificationChannel
)

// InventoryService owns stock checks and reservations for checkout carts.
type InventoryService interface {
	// CheckAvailability reports every line that cannot be satisfied. It never mutates stock.
	CheckAvailability(ctx context.Context, lines []CartLine) ([]StockShortfall, error)
	// Reserve decrements stock for every line or for none. Shortfalls surface as *StockConflictError.
	Reserve(ctx context.Context, lines []CartLine) (StockReservation, error)
	// Release restores a reservation, typically after order persistence failed.
	Release(ctx context.Context, reservation StockReservation) error
}

// StockReservation records the aggregated quantities removed from stock.
type StockReservation struct {
	Lines      []repositories.StockLine
	ReservedAt time.Time
}

// OrderService creates guest orders and enforces the order status state machine.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	// Confirm records the payment and shipment and moves the order to Confirmed atomically.
	Confirm(ctx context.Context, cmd ConfirmOrderCommand) (Order, error)
}

// CreateOrderCommand captures everything needed to persist a new order header.
type CreateOrderCommand struct {
	Lines           []CartLine
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ShippingAddress string
	Notes           string
	TotalAmount     int64
	Currency        string
	Status          OrderStatus
}

// OrderStatusTransitionCommand requests a status change. Expected, when set, must match the stored status.
type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ExpectedStatus *OrderStatus
	Reason         string
}

// ConfirmOrderCommand confirms an order that is still in ExpectedStatus.
type ConfirmOrderCommand struct {
	OrderID        string
	ExpectedStatus OrderStatus
	Payment        Payment
	Shipment       Shipment
	Reason         string
}

// CounterService issues formatted sequence numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// ChallengeRegistry tracks pending OTP challenges keyed by order id. Operations on the same order id are
// linearizable; operations on different order ids do not contend.
type ChallengeRegistry interface {
	Issue(ctx context.Context, cmd IssueChallengeCommand) (Challenge, error)
	Verify(ctx context.Context, orderID, destination, code string) (VerifyResult, error)
	// Skip removes the challenge and returns it. ok is false when nothing was pending.
	Skip(ctx context.Context, orderID string) (challenge Challenge, ok bool)
	// Peek returns the live challenge without consuming it.
	Peek(orderID string) (Challenge, bool)
	// Restore puts back a consumed challenge unless a live one was issued since. It reports whether the
	// challenge was stored.
	Restore(ctx context.Context, challenge Challenge) bool
	// Revoke removes the challenge only when it still carries code.
	Revoke(orderID, code string) bool
	// Pending returns a masked view suitable for staff tooling.
	Pending(orderID string) (ChallengeStatus, bool)
	// Sweep drops every challenge that expired before now and returns the number removed.
	Sweep(now time.Time) int
	RunSweeper(ctx context.Context, interval time.Duration) error
}

// IssueChallengeCommand describes an OTP to issue for an order.
type IssueChallengeCommand struct {
	OrderID     string
	OrderNumber string
	Destination string
	Channel     NotificationChannel
	TTL         time.Duration
	Payload     *CheckoutPayload
}

// VerifyOutcome classifies a verification attempt.
type VerifyOutcome string

const (
	VerifyOutcomeVerified VerifyOutcome = "verified"
	VerifyOutcomeNotFound VerifyOutcome = "not_found"
	VerifyOutcomeMismatch VerifyOutcome = "mismatch"
	VerifyOutcomeExpired  VerifyOutcome = "expired"
)

// VerifyResult carries the outcome and, when verified or expired, the consumed challenge.
type VerifyResult struct {
	Outcome   VerifyOutcome
	Challenge Challenge
}

// Verified reports whether the code was accepted.
func (r VerifyResult) Verified() bool { return r.Outcome == VerifyOutcomeVerified }

// ChallengeStatus is the read-only view of a pending challenge.
type ChallengeStatus struct {
	OrderID           string
	Channel           NotificationChannel
	MaskedDestination string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	Expired           bool
}

// CheckoutService orchestrates guest checkout from stock reservation to finalization.
type CheckoutService interface {
	CheckStock(ctx context.Context, lines []CartLine) (StockCheckResult, error)
	CreateGuestOrder(ctx context.Context, cmd GuestOrderCommand) (GuestOrderResult, error)
	ConfirmGuestOrder(ctx context.Context, cmd GuestOrderCommand) (GuestOrderResult, error)
	ConfirmGuestOrderWithOTP(ctx context.Context, cmd GuestOrderCommand, channel NotificationChannel, destination string) (GuestOrderResult, error)
	RequestOTP(ctx context.Context, cmd RequestOTPCommand) (RequestOTPResult, error)
	Finalize(ctx context.Context, cmd FinalizeCommand) (FinalizeResult, error)
	FinalizeSkip(ctx context.Context, orderID string) (FinalizeResult, error)
	InspectOrder(ctx context.Context, orderID string) (OrderInspection, error)
	SweepChallenges(ctx context.Context) (int, error)
}

// GuestOrderCommand is the checkout request body after decoding.
type GuestOrderCommand struct {
	Lines       []CartLine
	Shipment    *ShipmentDetails
	Payment     *PaymentDetails
	TotalAmount int64
}

// GuestOrderResult summarises the persisted order.
type GuestOrderResult struct {
	Order              Order
	Payment            *Payment
	Shipment           *Shipment
	VerificationSentTo string
	Channel            NotificationChannel
	ExpiresAt          time.Time
}

// StockCheckResult is the outcome of a read-only availability check.
type StockCheckResult struct {
	Available bool
	Issues    []StockShortfall
}

// RequestOTPCommand re-issues a challenge for an order awaiting verification.
type RequestOTPCommand struct {
	OrderID     string
	Destination string
	Channel     NotificationChannel
}

// RequestOTPResult describes the issued challenge without revealing its code.
type RequestOTPResult struct {
	OrderID   string
	Channel   NotificationChannel
	ExpiresAt time.Time
}

// FinalizeCommand verifies a code for an order.
type FinalizeCommand struct {
	OrderID     string
	Destination string
	Code        string
}

// FinalizeResult is returned once payment and shipment exist and the order is confirmed.
type FinalizeResult struct {
	Order    Order
	Payment  Payment
	Shipment Shipment
}

// OrderInspection is the staff view of a checkout order.
type OrderInspection struct {
	Order     Order
	Payments  []Payment
	Shipments []Shipment
	Challenge *ChallengeStatus
}

// NotificationDispatcher sends OTP and confirmation messages without blocking the caller.
type NotificationDispatcher interface {
	SendOTP(ctx context.Context, notification OTPNotification)
	SendOrderConfirmation(ctx context.Context, order Order)
	// Close waits for in-flight sends or until ctx is done.
	Close(ctx context.Context) error
}

// OTPNotification is the data needed to render an OTP message.
type OTPNotification struct {
	OrderID     string
	OrderNumber string
	Channel     NotificationChannel
	Destination string
	Code        string
	ExpiresAt   time.Time
	IssuedAt    time.Time
}

// NotificationPublisher hands rendered notifications to the delivery pipeline.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, message NotificationMessage) (string, error)
}

// NotificationMessage is the payload delivered to notification workers via Pub/Sub.
type NotificationMessage struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Channel     string    `json:"channel"`
	Destination string    `json:"destination"`
	Subject     string    `json:"subject,omitempty"`
	Body        string    `json:"body"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber,omitempty"`
	QueuedAt    time.Time `json:"queuedAt"`
}

// PaymentStatusResolver looks up the live status of a provider payment reference.
type PaymentStatusResolver interface {
	ResolveStatus(ctx context.Context, providerRef string) (string, error)
}

// CheckoutMetrics records checkout counters.
type CheckoutMetrics interface {
	RecordOTP(ctx context.Context, outcome string, channel NotificationChannel)
	RecordStockConflict(ctx context.Context, lines int)
	RecordOrder(ctx context.Context, status OrderStatus)
}

type noopCheckoutMetrics struct{}

func (noopCheckoutMetrics) RecordOTP(context.Context, string, NotificationChannel) {}
func (noopCheckoutMetrics) RecordStockConflict(context.Context, int)               {}
func (noopCheckoutMetrics) RecordOrder(context.Context, OrderStatus)               {}
