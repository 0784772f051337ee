package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider  *pfirestore.Provider
	inventory *InventoryRepository
	orders    *OrderRepository
	payments  *PaymentRepository
	shipments *ShipmentRepository
	vendors   *VendorRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every Firestore repository over the shared provider. Extra readiness checks
// (for example Pub/Sub) are appended to the Firestore ping.
func NewRegistry(provider *pfirestore.Provider, checks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, err
	}
	shipments, err := NewShipmentRepository(provider)
	if err != nil {
		return nil, err
	}
	vendors, err := NewVendorRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	all := append([]repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}, checks...)
	health, err := repositories.NewDependencyHealthRepository(all)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}

	return &Registry{
		provider:  provider,
		inventory: inventory,
		orders:    orders,
		payments:  payments,
		shipments: shipments,
		vendors:   vendors,
		counters:  counters,
		health:    health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Inventory() repositories.InventoryRepository    { return r.inventory }
func (r *Registry) Orders() repositories.OrderRepository           { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository       { return r.payments }
func (r *Registry) Shipments() repositories.ShipmentRepository     { return r.shipments }
func (r *Registry) Vendors() repositories.ShippingVendorRepository { return r.vendors }
func (r *Registry) Counters() repositories.CounterRepository       { return r.counters }
func (r *Registry) Health() repositories.HealthRepository          { return r.health }

// RunInTx runs fn directly. Each repository guards its own invariants with document-level transactions,
// so there is no cross-collection transaction to join.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
