package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Inventory() InventoryRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Shipments() ShipmentRepository
	Vendors() ShippingVendorRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InventoryRepository owns per-product stock levels.
//
// CheckAndReserve must verify every line and decrement stock in one atomic step per call: either every
// line is decremented or none is. When any line is short it returns an *InventoryError with code
// InventoryErrorInsufficientStock carrying the full shortfall list.
type InventoryRepository interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	Check(ctx context.Context, lines []StockLine) ([]domain.StockShortfall, error)
	CheckAndReserve(ctx context.Context, lines []StockLine, now time.Time) error
	Release(ctx context.Context, lines []StockLine, now time.Time) error
	Upsert(ctx context.Context, product domain.Product) error
}

// StockLine is an aggregated per-product quantity used by inventory operations.
type StockLine struct {
	ProductID   string
	ProductName string
	Quantity    int
}

// OrderRepository persists guest orders. Status is only changed through UpdateStatus.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// UpdateStatus moves the order from one of the expected statuses to next. A RepositoryError with
	// IsConflict is returned when the stored status is not in expected.
	UpdateStatus(ctx context.Context, orderID string, expected []domain.OrderStatus, next domain.OrderStatus, at time.Time) (domain.Order, error)
	// Confirm records the payment and shipment and moves the order to Confirmed in one unit. Records whose
	// id already exists are left untouched. Nothing is written when the stored status is not in expected.
	Confirm(ctx context.Context, orderID string, expected []domain.OrderStatus, payment domain.Payment, shipment domain.Shipment, at time.Time) (domain.Order, error)
}

// PaymentRepository persists payment records attached to orders.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
}

// ShipmentRepository persists shipment records attached to orders.
type ShipmentRepository interface {
	Insert(ctx context.Context, shipment domain.Shipment) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error)
}

// ShippingVendorRepository lists carriers available for assignment.
type ShippingVendorRepository interface {
	ListActive(ctx context.Context) ([]domain.ShippingVendor, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.ReadinessReport, error)
}
