package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const ordersCollection = "orders"

type orderLineDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Size        string `firestore:"size,omitempty"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
}

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	CustomerName    string              `firestore:"customerName"`
	CustomerEmail   string              `firestore:"customerEmail"`
	CustomerPhone   string              `firestore:"customerPhone,omitempty"`
	Status          string              `firestore:"status"`
	TotalAmount     int64               `firestore:"totalAmount"`
	Currency        string              `firestore:"currency"`
	ShippingAddress string              `firestore:"shippingAddress"`
	Notes           string              `firestore:"notes,omitempty"`
	Lines           []orderLineDocument `firestore:"lines"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ConfirmedAt     *time.Time          `firestore:"confirmedAt,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Size:        line.Size,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}
	return orderDocument{
		OrderNumber:     order.OrderNumber,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		CustomerPhone:   order.CustomerPhone,
		Status:          string(order.Status),
		TotalAmount:     order.TotalAmount,
		Currency:        order.Currency,
		ShippingAddress: order.ShippingAddress,
		Notes:           order.Notes,
		Lines:           lines,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		ConfirmedAt:     order.ConfirmedAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.CartLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		lines = append(lines, domain.CartLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Size:        line.Size,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}
	return domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		CustomerName:    d.CustomerName,
		CustomerEmail:   d.CustomerEmail,
		CustomerPhone:   d.CustomerPhone,
		Status:          domain.OrderStatus(d.Status),
		TotalAmount:     d.TotalAmount,
		Currency:        d.Currency,
		ShippingAddress: d.ShippingAddress,
		Notes:           d.Notes,
		Lines:           lines,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
		ConfirmedAt:     d.ConfirmedAt,
	}
}

// OrderRepository persists guest orders in the orders collection.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.orderRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.orderRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, expected []domain.OrderStatus, next domain.OrderStatus, at time.Time) (domain.Order, error) {
	ref, err := r.orderRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	at = at.UTC()

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if !statusIn(domain.OrderStatus(doc.Status), expected) {
			return pfirestore.Conflict("orders.status", fmt.Sprintf("order %s is %s", orderID, doc.Status))
		}
		doc.Status = string(next)
		doc.UpdatedAt = at
		if next == domain.OrderStatusConfirmed {
			confirmed := at
			doc.ConfirmedAt = &confirmed
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.status", err)
	}
	return updated, nil
}

// Confirm writes the payment, the shipment and the Confirmed status in a single transaction. All reads
// happen before the first write as Firestore requires.
func (r *OrderRepository) Confirm(ctx context.Context, orderID string, expected []domain.OrderStatus, payment domain.Payment, shipment domain.Shipment, at time.Time) (domain.Order, error) {
	ref, err := r.orderRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if strings.TrimSpace(payment.ID) == "" || strings.TrimSpace(shipment.ID) == "" {
		return domain.Order{}, pfirestore.NotFound("orders.confirm", "payment and shipment ids are required")
	}
	if payment.OrderID != ref.ID || shipment.OrderID != ref.ID {
		return domain.Order{}, pfirestore.Conflict("orders.confirm", fmt.Sprintf("records do not belong to order %s", ref.ID))
	}
	paymentRef := ref.Collection(paymentsSubcollection).Doc(payment.ID)
	shipmentRef := ref.Collection(shipmentsSubcollection).Doc(shipment.ID)
	at = at.UTC()

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", ref.ID, err)
		}
		if !statusIn(domain.OrderStatus(doc.Status), expected) {
			return pfirestore.Conflict("orders.confirm", fmt.Sprintf("order %s is %s", ref.ID, doc.Status))
		}
		paymentExists, err := documentExists(tx, paymentRef)
		if err != nil {
			return err
		}
		shipmentExists, err := documentExists(tx, shipmentRef)
		if err != nil {
			return err
		}

		if !paymentExists {
			if err := tx.Create(paymentRef, newPaymentDocument(payment)); err != nil {
				return err
			}
		}
		if !shipmentExists {
			if err := tx.Create(shipmentRef, newShipmentDocument(shipment)); err != nil {
				return err
			}
		}
		doc.Status = string(domain.OrderStatusConfirmed)
		doc.UpdatedAt = at
		confirmed := at
		doc.ConfirmedAt = &confirmed
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(ref.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.confirm", err)
	}
	return updated, nil
}

func documentExists(tx *firestore.Transaction, ref *firestore.DocumentRef) (bool, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return snap.Exists(), nil
}

func (r *OrderRepository) orderRef(ctx context.Context, orderID string) (*firestore.DocumentRef, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, pfirestore.NotFound("orders", "order id is required")
	}
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
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
