package memory

import (
	"context"
	"fmt"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// Registry is a process-local repositories.Registry used for development and tests.
type Registry struct {
	inventory *InventoryRepository
	orders    *OrderRepository
	payments  *PaymentRepository
	shipments *ShipmentRepository
	vendors   *VendorRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// Seed carries initial catalogue data.
type Seed struct {
	Products []domain.Product
	Vendors  []domain.ShippingVendor
}

// NewRegistry builds an in-memory registry. Additional readiness checks are reported by Health alongside
// the always-ready memory store.
func NewRegistry(seed Seed, checks ...repositories.DependencyCheck) (*Registry, error) {
	all := append([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}}, checks...)
	health, err := repositories.NewDependencyHealthRepository(all)
	if err != nil {
		return nil, fmt.Errorf("memory registry: %w", err)
	}
	payments := NewPaymentRepository()
	shipments := NewShipmentRepository()
	return &Registry{
		inventory: NewInventoryRepository(seed.Products...),
		orders:    newOrderRepository(payments, shipments),
		payments:  payments,
		shipments: shipments,
		vendors:   NewVendorRepository(seed.Vendors...),
		counters:  NewCounterRepository(),
		health:    health,
	}, nil
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Inventory() repositories.InventoryRepository    { return r.inventory }
func (r *Registry) Orders() repositories.OrderRepository           { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository       { return r.payments }
func (r *Registry) Shipments() repositories.ShipmentRepository     { return r.shipments }
func (r *Registry) Vendors() repositories.ShippingVendorRepository { return r.vendors }
func (r *Registry) Counters() repositories.CounterRepository       { return r.counters }
func (r *Registry) Health() repositories.HealthRepository          { return r.health }

// InventoryStore exposes the concrete inventory for seeding and assertions.
func (r *Registry) InventoryStore() *InventoryRepository { return r.inventory }

// OrderStore exposes the concrete order repository for assertions.
func (r *Registry) OrderStore() *OrderRepository { return r.orders }

// VendorStore exposes the concrete vendor list.
func (r *Registry) VendorStore() *VendorRepository { return r.vendors }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// DefaultSeed is the development catalogue used when no Firestore project is configured.
func DefaultSeed() Seed {
	return Seed{
		Products: []domain.Product{
			{ID: "tee-classic-m", Name: "Classic Tee", Size: "M", StockLevel: 25},
			{ID: "tee-classic-l", Name: "Classic Tee", Size: "L", StockLevel: 10},
			{ID: "hoodie-zip-m", Name: "Zip Hoodie", Size: "M", StockLevel: 5},
			{ID: "cap-logo", Name: "Logo Cap", StockLevel: 1},
		},
		Vendors: []domain.ShippingVendor{
			{ID: "vendor-ground", Name: "Ground Express", Active: true},
			{ID: "vendor-air", Name: "Air Parcel", Active: true},
		},
	}
}
