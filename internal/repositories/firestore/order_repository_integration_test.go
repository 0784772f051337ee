//go:build integration

package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

func TestOrderAndFulfilmentRepositoriesIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-test")

	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	order := domain.Order{
		ID:              "ord_1",
		OrderNumber:     "ORD-2025-000001",
		CustomerName:    "Jane Doe",
		CustomerEmail:   "jane@example.com",
		Status:          domain.OrderStatusPendingVerification,
		TotalAmount:     11998,
		Currency:        "USD",
		ShippingAddress: "123 Main St, New York 10001",
		Lines:           []domain.CartLine{{ProductID: "P1", ProductName: "Slim Fit", Quantity: 2, UnitPrice: 5999}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := registry.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	err = registry.Orders().Insert(ctx, order)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	stored, err := registry.Orders().FindByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if stored.TotalAmount != 11998 || len(stored.Lines) != 1 || stored.Lines[0].UnitPrice != 5999 {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	confirmed, err := registry.Orders().UpdateStatus(ctx, "ord_1", []domain.OrderStatus{domain.OrderStatusPendingVerification}, domain.OrderStatusConfirmed, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed || confirmed.ConfirmedAt == nil {
		t.Fatalf("expected confirmed order with timestamp, got %+v", confirmed)
	}
	_, err = registry.Orders().UpdateStatus(ctx, "ord_1", []domain.OrderStatus{domain.OrderStatusPendingVerification}, domain.OrderStatusNotVerified, now.Add(2*time.Minute))
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict for stale transition, got %v", err)
	}

	_, err = registry.Orders().FindByID(ctx, "ord_missing")
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := registry.Payments().Insert(ctx, domain.Payment{ID: "pay_1", OrderID: "ord_1", Amount: 11998, Currency: "USD", Method: "credit_card", Status: "completed", CreatedAt: now}); err != nil {
		t.Fatalf("insert payment: %v", err)
	}
	if err := registry.Shipments().Insert(ctx, domain.Shipment{ID: "shp_1", OrderID: "ord_1", Status: "pending", ShippingAddress: order.ShippingAddress, CreatedAt: now}); err != nil {
		t.Fatalf("insert shipment: %v", err)
	}
	payments, err := registry.Payments().ListByOrder(ctx, "ord_1")
	if err != nil || len(payments) != 1 || payments[0].Amount != 11998 {
		t.Fatalf("unexpected payments %+v (%v)", payments, err)
	}
	shipments, err := registry.Shipments().ListByOrder(ctx, "ord_1")
	if err != nil || len(shipments) != 1 || shipments[0].Status != "pending" {
		t.Fatalf("unexpected shipments %+v (%v)", shipments, err)
	}

	vendors, err := registry.Vendors().ListActive(ctx)
	if err != nil {
		t.Fatalf("list vendors: %v", err)
	}
	if len(vendors) != 0 {
		t.Fatalf("expected no vendors in empty project, got %+v", vendors)
	}
}

func TestOrderRepositoryConfirmIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-confirm-test")

	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	order := domain.Order{
		ID:              "ord_c",
		OrderNumber:     "ORD-2025-000002",
		CustomerName:    "Jane Doe",
		CustomerEmail:   "jane@example.com",
		Status:          domain.OrderStatusPendingVerification,
		TotalAmount:     5999,
		Currency:        "USD",
		ShippingAddress: "123 Main St, New York 10001",
		Lines:           []domain.CartLine{{ProductID: "P1", ProductName: "Slim Fit", Quantity: 1, UnitPrice: 5999}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := registry.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	payment := domain.Payment{ID: "pay_ord_c", OrderID: "ord_c", Amount: 5999, Currency: "USD", Method: "card", Status: "AUTHORIZED", CreatedAt: now}
	shipment := domain.Shipment{ID: "shp_ord_c", OrderID: "ord_c", VendorID: "v1", Status: "pending", ShippingAddress: order.ShippingAddress, CreatedAt: now}
	pending := []domain.OrderStatus{domain.OrderStatusPendingVerification}

	confirmed, err := registry.Orders().Confirm(ctx, "ord_c", pending, payment, shipment, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed || confirmed.ConfirmedAt == nil {
		t.Fatalf("expected confirmed order, got %+v", confirmed)
	}

	_, err = registry.Orders().Confirm(ctx, "ord_c", pending, payment, shipment, now.Add(2*time.Minute))
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on second confirm, got %v", err)
	}

	payments, err := registry.Payments().ListByOrder(ctx, "ord_c")
	if err != nil || len(payments) != 1 || payments[0].ID != "pay_ord_c" {
		t.Fatalf("expected one payment, got %+v (%v)", payments, err)
	}
	shipments, err := registry.Shipments().ListByOrder(ctx, "ord_c")
	if err != nil || len(shipments) != 1 || shipments[0].ID != "shp_ord_c" {
		t.Fatalf("expected one shipment, got %+v (%v)", shipments, err)
	}
}
