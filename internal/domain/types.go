package domain

import (
	"time"
)

// OrderStatus enumerates valid lifecycle states for guest orders.
type OrderStatus string

const (
	// OrderStatusPending indicates an immediate (non-gated) order that has not been reviewed yet.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusPendingVerification indicates an OTP was issued and the order awaits verify or skip.
	OrderStatusPendingVerification OrderStatus = "PendingVerification"
	// OrderStatusConfirmed indicates payment and shipment records exist for the order.
	OrderStatusConfirmed OrderStatus = "Confirmed"
	// OrderStatusNotVerified indicates the verification challenge expired before it was answered.
	OrderStatusNotVerified OrderStatus = "NotVerified"
	// OrderStatusShipped is owned by fulfilment flows.
	OrderStatusShipped OrderStatus = "Shipped"
	// OrderStatusDelivered is owned by fulfilment flows.
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusCancelled is owned by admin flows.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// CartLine is a single cart entry captured into an order. Monetary values use the smallest currency unit.
type CartLine struct {
	ProductID   string
	ProductName string
	Size        string
	Quantity    int
	UnitPrice   int64
}

// Total returns the extended line amount.
func (l CartLine) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// ShipmentDetails captures the ship-to contact supplied at checkout.
type ShipmentDetails struct {
	Name       string
	Email      string
	Phone      string
	Address    string
	City       string
	PostalCode string
}

// PaymentDetails captures the payment method reported by the storefront.
type PaymentDetails struct {
	Type     string
	Status   string
	IntentID string
}

// CheckoutPayload is the data needed to materialise payment and shipment records for an order.
type CheckoutPayload struct {
	Shipment    *ShipmentDetails
	Payment     *PaymentDetails
	TotalAmount int64
	Currency    string
}

// Order captures the guest order header and its lines.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	Status          OrderStatus
	TotalAmount     int64
	Currency        string
	ShippingAddress string
	Notes           string
	Lines           []CartLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
}

// Payment records the payment captured for a confirmed order.
type Payment struct {
	ID          string
	OrderID     string
	Amount      int64
	Currency    string
	Method      string
	Status      string
	Notes       string
	ProviderRef string
	CreatedAt   time.Time
}

// Shipment represents the fulfilment record created when an order is confirmed.
type Shipment struct {
	ID              string
	OrderID         string
	VendorID        string
	TrackingNumber  string
	Status          string
	ShippingAddress string
	Notes           string
	CreatedAt       time.Time
}

// ShippingVendor is a carrier that may be assigned to shipments.
type ShippingVendor struct {
	ID     string
	Name   string
	Active bool
}

// Product is the stock-bearing catalogue entry the ledger decrements.
type Product struct {
	ID         string
	Name       string
	Size       string
	StockLevel int
	UpdatedAt  time.Time
}

// StockShortfall describes a cart line that cannot be satisfied from current stock.
type StockShortfall struct {
	ProductID         string
	ProductName       string
	RequestedQuantity int
	AvailableStock    int
	NotFound          bool
}

// NotificationChannel selects how a verification code reaches the customer.
type NotificationChannel string

const (
	// ChannelSMS delivers codes to the shipment phone number.
	ChannelSMS NotificationChannel = "sms"
	// ChannelEmail delivers codes to the customer email address.
	ChannelEmail NotificationChannel = "email"
)

// Challenge is the server-side record of an issued one-time passcode.
type Challenge struct {
	OrderID     string
	Destination string
	Channel     NotificationChannel
	Code        string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Payload     *CheckoutPayload
}

// Expired reports whether the challenge deadline has passed at now.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
