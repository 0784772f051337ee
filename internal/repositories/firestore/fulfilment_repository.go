package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	paymentsSubcollection  = "payments"
	shipmentsSubcollection = "shipments"
	vendorsCollection      = "shippingVendors"
)

type paymentDocument struct {
	Amount      int64     `firestore:"amount"`
	Currency    string    `firestore:"currency"`
	Method      string    `firestore:"method"`
	Status      string    `firestore:"status"`
	Notes       string    `firestore:"notes,omitempty"`
	ProviderRef string    `firestore:"providerRef,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

type shipmentDocument struct {
	VendorID        string    `firestore:"vendorId"`
	TrackingNumber  string    `firestore:"trackingNumber"`
	Status          string    `firestore:"status"`
	ShippingAddress string    `firestore:"shippingAddress"`
	Notes           string    `firestore:"notes,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

func newPaymentDocument(payment domain.Payment) paymentDocument {
	return paymentDocument{
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Method:      payment.Method,
		Status:      payment.Status,
		Notes:       payment.Notes,
		ProviderRef: payment.ProviderRef,
		CreatedAt:   payment.CreatedAt.UTC(),
	}
}

func newShipmentDocument(shipment domain.Shipment) shipmentDocument {
	return shipmentDocument{
		VendorID:        shipment.VendorID,
		TrackingNumber:  shipment.TrackingNumber,
		Status:          shipment.Status,
		ShippingAddress: shipment.ShippingAddress,
		Notes:           shipment.Notes,
		CreatedAt:       shipment.CreatedAt.UTC(),
	}
}

type vendorDocument struct {
	Name   string `firestore:"name"`
	Active bool   `firestore:"active"`
}

// PaymentRepository stores payments under orders/{orderId}/payments.
type PaymentRepository struct {
	provider *pfirestore.Provider
}

// ShipmentRepository stores shipments under orders/{orderId}/shipments.
type ShipmentRepository struct {
	provider *pfirestore.Provider
}

// VendorRepository reads the shippingVendors collection.
type VendorRepository struct {
	provider *pfirestore.Provider
}

var (
	_ repositories.PaymentRepository        = (*PaymentRepository)(nil)
	_ repositories.ShipmentRepository       = (*ShipmentRepository)(nil)
	_ repositories.ShippingVendorRepository = (*VendorRepository)(nil)
)

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{provider: provider}, nil
}

// NewShipmentRepository constructs a Firestore-backed shipment repository.
func NewShipmentRepository(provider *pfirestore.Provider) (*ShipmentRepository, error) {
	if provider == nil {
		return nil, errors.New("shipment repository requires firestore provider")
	}
	return &ShipmentRepository{provider: provider}, nil
}

// NewVendorRepository constructs a Firestore-backed shipping vendor repository.
func NewVendorRepository(provider *pfirestore.Provider) (*VendorRepository, error) {
	if provider == nil {
		return nil, errors.New("vendor repository requires firestore provider")
	}
	return &VendorRepository{provider: provider}, nil
}

func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	coll, err := orderSubcollection(ctx, r.provider, payment.OrderID, paymentsSubcollection)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(payment.ID).Create(ctx, newPaymentDocument(payment)); err != nil {
		return pfirestore.WrapError("payments.insert", err)
	}
	return nil
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	coll, err := orderSubcollection(ctx, r.provider, orderID, paymentsSubcollection)
	if err != nil {
		return nil, err
	}
	var out []domain.Payment
	err = eachDocument(ctx, coll.OrderBy("createdAt", firestore.Asc), func(snap *firestore.DocumentSnapshot) error {
		var doc paymentDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode payment %s: %w", snap.Ref.ID, err)
		}
		out = append(out, domain.Payment{
			ID:          snap.Ref.ID,
			OrderID:     orderID,
			Amount:      doc.Amount,
			Currency:    doc.Currency,
			Method:      doc.Method,
			Status:      doc.Status,
			Notes:       doc.Notes,
			ProviderRef: doc.ProviderRef,
			CreatedAt:   doc.CreatedAt.UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("payments.list", err)
	}
	return out, nil
}

func (r *ShipmentRepository) Insert(ctx context.Context, shipment domain.Shipment) error {
	coll, err := orderSubcollection(ctx, r.provider, shipment.OrderID, shipmentsSubcollection)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(shipment.ID).Create(ctx, newShipmentDocument(shipment)); err != nil {
		return pfirestore.WrapError("shipments.insert", err)
	}
	return nil
}

func (r *ShipmentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	coll, err := orderSubcollection(ctx, r.provider, orderID, shipmentsSubcollection)
	if err != nil {
		return nil, err
	}
	var out []domain.Shipment
	err = eachDocument(ctx, coll.OrderBy("createdAt", firestore.Asc), func(snap *firestore.DocumentSnapshot) error {
		var doc shipmentDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode shipment %s: %w", snap.Ref.ID, err)
		}
		out = append(out, domain.Shipment{
			ID:              snap.Ref.ID,
			OrderID:         orderID,
			VendorID:        doc.VendorID,
			TrackingNumber:  doc.TrackingNumber,
			Status:          doc.Status,
			ShippingAddress: doc.ShippingAddress,
			Notes:           doc.Notes,
			CreatedAt:       doc.CreatedAt.UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("shipments.list", err)
	}
	return out, nil
}

func (r *VendorRepository) ListActive(ctx context.Context) ([]domain.ShippingVendor, error) {
	coll, err := r.provider.Collection(ctx, vendorsCollection)
	if err != nil {
		return nil, err
	}
	var out []domain.ShippingVendor
	query := coll.Where("active", "==", true).OrderBy("name", firestore.Asc)
	err = eachDocument(ctx, query, func(snap *firestore.DocumentSnapshot) error {
		var doc vendorDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode vendor %s: %w", snap.Ref.ID, err)
		}
		out = append(out, domain.ShippingVendor{ID: snap.Ref.ID, Name: doc.Name, Active: doc.Active})
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("vendors.list", err)
	}
	return out, nil
}

func orderSubcollection(ctx context.Context, provider *pfirestore.Provider, orderID, name string) (*firestore.CollectionRef, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, pfirestore.NotFound(name, "order id is required")
	}
	coll, err := provider.Collection(ctx, ordersCollection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id).Collection(name), nil
}

func eachDocument(ctx context.Context, query firestore.Query, fn func(*firestore.DocumentSnapshot) error) error {
	iter := query.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}
