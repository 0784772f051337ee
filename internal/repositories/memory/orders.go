package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// OrderRepository stores orders by id. Confirm writes into the payment and shipment stores it was
// built with.
type OrderRepository struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order
	payments  *PaymentRepository
	shipments *ShipmentRepository
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository() *OrderRepository {
	return newOrderRepository(NewPaymentRepository(), NewShipmentRepository())
}

func newOrderRepository(payments *PaymentRepository, shipments *ShipmentRepository) *OrderRepository {
	return &OrderRepository{
		orders:    make(map[string]domain.Order),
		payments:  payments,
		shipments: shipments,
	}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return notFound("orders.insert", "order id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[id]; exists {
		return conflict("orders.insert", "order %s already exists", id)
	}
	r.orders[id] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, notFound("orders.get", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) UpdateStatus(_ context.Context, orderID string, expected []domain.OrderStatus, next domain.OrderStatus, at time.Time) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, notFound("orders.status", "order %s not found", id)
	}
	if !statusIn(order.Status, expected) {
		return domain.Order{}, conflict("orders.status", "order %s is %s", id, order.Status)
	}
	at = at.UTC()
	order.Status = next
	order.UpdatedAt = at
	if next == domain.OrderStatusConfirmed {
		confirmed := at
		order.ConfirmedAt = &confirmed
	}
	r.orders[id] = order
	return cloneOrder(order), nil
}

func (r *OrderRepository) Confirm(_ context.Context, orderID string, expected []domain.OrderStatus, payment domain.Payment, shipment domain.Shipment, at time.Time) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if strings.TrimSpace(payment.ID) == "" || strings.TrimSpace(shipment.ID) == "" {
		return domain.Order{}, notFound("orders.confirm", "payment and shipment ids are required")
	}
	if payment.OrderID != id || shipment.OrderID != id {
		return domain.Order{}, conflict("orders.confirm", "records do not belong to order %s", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, notFound("orders.confirm", "order %s not found", id)
	}
	if !statusIn(order.Status, expected) {
		return domain.Order{}, conflict("orders.confirm", "order %s is %s", id, order.Status)
	}

	r.payments.insertIfAbsent(payment)
	r.shipments.insertIfAbsent(shipment)

	at = at.UTC()
	order.Status = domain.OrderStatusConfirmed
	order.UpdatedAt = at
	confirmed := at
	order.ConfirmedAt = &confirmed
	r.orders[id] = order
	return cloneOrder(order), nil
}

// List returns every order sorted by creation time.
func (r *OrderRepository) List() []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		out = append(out, cloneOrder(order))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func cloneOrder(order domain.Order) domain.Order {
	if order.Lines != nil {
		order.Lines = append([]domain.CartLine(nil), order.Lines...)
	}
	if order.ConfirmedAt != nil {
		confirmed := *order.ConfirmedAt
		order.ConfirmedAt = &confirmed
	}
	return order
}

func statusIn(status domain.OrderStatus, allowed []domain.OrderStatus) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == status {
			return true
		}
	}
	return false
}
