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

const productsCollection = "products"

type productDocument struct {
	Name       string    `firestore:"name"`
	Size       string    `firestore:"size,omitempty"`
	StockLevel int       `firestore:"stockLevel"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:         id,
		Name:       d.Name,
		Size:       d.Size,
		StockLevel: d.StockLevel,
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

// InventoryRepository stores product stock levels. Reservations read every product in the cart and
// write the decremented levels inside one transaction, so concurrent checkouts of the same product
// are serialised by Firestore's optimistic concurrency and retried on contention.
type InventoryRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{provider: provider}, nil
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	ref, err := r.productRef(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.get", err)
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s: %w", productID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (r *InventoryRepository) Upsert(ctx context.Context, product domain.Product) error {
	ref, err := r.productRef(ctx, product.ID)
	if err != nil {
		return err
	}
	doc := productDocument{
		Name:       product.Name,
		Size:       product.Size,
		StockLevel: product.StockLevel,
		UpdatedAt:  product.UpdatedAt.UTC(),
	}
	if _, err := ref.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("products.upsert", err)
	}
	return nil
}

// Check evaluates every line against a consistent snapshot without writing.
func (r *InventoryRepository) Check(ctx context.Context, lines []repositories.StockLine) ([]domain.StockShortfall, error) {
	var shortfalls []domain.StockShortfall
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := r.readSnapshot(ctx, tx, lines)
		if err != nil {
			return err
		}
		shortfalls = snapshot.shortfalls(lines)
		return nil
	}, pfirestore.WithTxReadOnly())
	if err != nil {
		return nil, wrapInventoryError("inventory.check", err)
	}
	return shortfalls, nil
}

func (r *InventoryRepository) CheckAndReserve(ctx context.Context, lines []repositories.StockLine, now time.Time) error {
	if err := validateLines("inventory.reserve", lines); err != nil {
		return err
	}
	now = now.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := r.readSnapshot(ctx, tx, lines)
		if err != nil {
			return err
		}
		if shortfalls := snapshot.shortfalls(lines); len(shortfalls) > 0 {
			return repositories.NewInsufficientStockError("inventory.reserve", shortfalls)
		}
		// Firestore requires every read before the first write.
		for _, line := range lines {
			entry := snapshot[line.ProductID]
			entry.doc.StockLevel -= line.Quantity
			entry.doc.UpdatedAt = now
			if err := tx.Set(entry.ref, entry.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapInventoryError("inventory.reserve", err)
	}
	return nil
}

func (r *InventoryRepository) Release(ctx context.Context, lines []repositories.StockLine, now time.Time) error {
	if err := validateLines("inventory.release", lines); err != nil {
		return err
	}
	now = now.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := r.readSnapshot(ctx, tx, lines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			entry := snapshot[line.ProductID]
			if entry.missing {
				continue
			}
			entry.doc.StockLevel += line.Quantity
			entry.doc.UpdatedAt = now
			if err := tx.Set(entry.ref, entry.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapInventoryError("inventory.release", err)
	}
	return nil
}

type stockEntry struct {
	ref     *firestore.DocumentRef
	doc     productDocument
	missing bool
}

type stockSnapshot map[string]*stockEntry

func (s stockSnapshot) shortfalls(lines []repositories.StockLine) []domain.StockShortfall {
	var out []domain.StockShortfall
	for _, line := range lines {
		entry := s[line.ProductID]
		switch {
		case entry == nil || entry.missing:
			out = append(out, domain.StockShortfall{
				ProductID:         line.ProductID,
				ProductName:       line.ProductName,
				RequestedQuantity: line.Quantity,
				NotFound:          true,
			})
		case entry.doc.StockLevel < line.Quantity:
			out = append(out, domain.StockShortfall{
				ProductID:         line.ProductID,
				ProductName:       line.ProductName,
				RequestedQuantity: line.Quantity,
				AvailableStock:    entry.doc.StockLevel,
			})
		}
	}
	return out
}

func (r *InventoryRepository) readSnapshot(ctx context.Context, tx *firestore.Transaction, lines []repositories.StockLine) (stockSnapshot, error) {
	snapshot := make(stockSnapshot, len(lines))
	for _, line := range lines {
		if _, seen := snapshot[line.ProductID]; seen {
			continue
		}
		ref, err := r.productRef(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			snapshot[line.ProductID] = &stockEntry{ref: ref, missing: true}
			continue
		}
		if err != nil {
			return nil, err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", line.ProductID, err)
		}
		snapshot[line.ProductID] = &stockEntry{ref: ref, doc: doc}
	}
	return snapshot, nil
}

func (r *InventoryRepository) productRef(ctx context.Context, productID string) (*firestore.DocumentRef, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return nil, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "product id is required", nil)
	}
	coll, err := r.provider.Collection(ctx, productsCollection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func validateLines(op string, lines []repositories.StockLine) error {
	if len(lines) == 0 {
		return &repositories.InventoryError{Op: op, Code: repositories.InventoryErrorInvalidQuantity, Message: "at least one line is required"}
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return &repositories.InventoryError{
				Op:      op,
				Code:    repositories.InventoryErrorInvalidQuantity,
				Message: fmt.Sprintf("quantity for %s must be > 0", line.ProductID),
			}
		}
	}
	return nil
}

func wrapInventoryError(op string, err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
