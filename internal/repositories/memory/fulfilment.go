package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// PaymentRepository stores payments grouped by order.
type PaymentRepository struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.Payment
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{byOrder: make(map[string][]domain.Payment)}
}

func (r *PaymentRepository) Insert(_ context.Context, payment domain.Payment) error {
	if strings.TrimSpace(payment.OrderID) == "" {
		return notFound("payments.insert", "order id is required")
	}
	if !r.insertIfAbsent(payment) {
		return conflict("payments.insert", "payment %s already exists", payment.ID)
	}
	return nil
}

func (r *PaymentRepository) insertIfAbsent(payment domain.Payment) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byOrder[payment.OrderID] {
		if existing.ID == payment.ID {
			return false
		}
	}
	r.byOrder[payment.OrderID] = append(r.byOrder[payment.OrderID], payment)
	return true
}

func (r *PaymentRepository) ListByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Payment(nil), r.byOrder[orderID]...), nil
}

// ShipmentRepository stores shipments grouped by order.
type ShipmentRepository struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.Shipment
}

var _ repositories.ShipmentRepository = (*ShipmentRepository)(nil)

func NewShipmentRepository() *ShipmentRepository {
	return &ShipmentRepository{byOrder: make(map[string][]domain.Shipment)}
}

func (r *ShipmentRepository) Insert(_ context.Context, shipment domain.Shipment) error {
	if strings.TrimSpace(shipment.OrderID) == "" {
		return notFound("shipments.insert", "order id is required")
	}
	if !r.insertIfAbsent(shipment) {
		return conflict("shipments.insert", "shipment %s already exists", shipment.ID)
	}
	return nil
}

func (r *ShipmentRepository) insertIfAbsent(shipment domain.Shipment) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byOrder[shipment.OrderID] {
		if existing.ID == shipment.ID {
			return false
		}
	}
	r.byOrder[shipment.OrderID] = append(r.byOrder[shipment.OrderID], shipment)
	return true
}

func (r *ShipmentRepository) ListByOrder(_ context.Context, orderID string) ([]domain.Shipment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Shipment(nil), r.byOrder[orderID]...), nil
}

// VendorRepository serves a fixed vendor list.
type VendorRepository struct {
	mu      sync.RWMutex
	vendors []domain.ShippingVendor
}

var _ repositories.ShippingVendorRepository = (*VendorRepository)(nil)

func NewVendorRepository(vendors ...domain.ShippingVendor) *VendorRepository {
	return &VendorRepository{vendors: append([]domain.ShippingVendor(nil), vendors...)}
}

func (r *VendorRepository) ListActive(context.Context) ([]domain.ShippingVendor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ShippingVendor, 0, len(r.vendors))
	for _, vendor := range r.vendors {
		if vendor.Active {
			out = append(out, vendor)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Set replaces the vendor list.
func (r *VendorRepository) Set(vendors ...domain.ShippingVendor) {
	r.mu.Lock()
	r.vendors = append([]domain.ShippingVendor(nil), vendors...)
	r.mu.Unlock()
}

// CounterRepository hands out monotonically increasing sequence values.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step <= 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "step must be positive", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[id] += step
	return r.values[id], nil
}
