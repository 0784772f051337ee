package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// InventoryRepository keeps stock levels in a map guarded by a single mutex. Check-and-decrement of a
// whole cart happens under the write lock, so concurrent reservations never oversell.
type InventoryRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository seeds the repository with the provided products.
func NewInventoryRepository(products ...domain.Product) *InventoryRepository {
	repo := &InventoryRepository{products: make(map[string]domain.Product, len(products))}
	for _, product := range products {
		repo.products[product.ID] = product
	}
	return repo
}

func (r *InventoryRepository) Get(_ context.Context, productID string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	product, ok := r.products[strings.TrimSpace(productID)]
	if !ok {
		return domain.Product{}, notFound("products.get", "product %s not found", productID)
	}
	return product, nil
}

func (r *InventoryRepository) Upsert(_ context.Context, product domain.Product) error {
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "product id is required", nil)
	}
	product.ID = id
	r.mu.Lock()
	r.products[id] = product
	r.mu.Unlock()
	return nil
}

func (r *InventoryRepository) Check(ctx context.Context, lines []repositories.StockLine) ([]domain.StockShortfall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shortfallsLocked(lines), nil
}

func (r *InventoryRepository) CheckAndReserve(ctx context.Context, lines []repositories.StockLine, now time.Time) error {
	if err := validateLines("inventory.reserve", lines); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if shortfalls := r.shortfallsLocked(lines); len(shortfalls) > 0 {
		return repositories.NewInsufficientStockError("inventory.reserve", shortfalls)
	}
	for _, line := range lines {
		product := r.products[line.ProductID]
		product.StockLevel -= line.Quantity
		product.UpdatedAt = now.UTC()
		r.products[line.ProductID] = product
	}
	return nil
}

func (r *InventoryRepository) Release(_ context.Context, lines []repositories.StockLine, now time.Time) error {
	if err := validateLines("inventory.release", lines); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range lines {
		product, ok := r.products[line.ProductID]
		if !ok {
			continue
		}
		product.StockLevel += line.Quantity
		product.UpdatedAt = now.UTC()
		r.products[line.ProductID] = product
	}
	return nil
}

// Snapshot returns the products ordered by id.
func (r *InventoryRepository) Snapshot() []domain.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Product, 0, len(r.products))
	for _, product := range r.products {
		out = append(out, product)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *InventoryRepository) shortfallsLocked(lines []repositories.StockLine) []domain.StockShortfall {
	var out []domain.StockShortfall
	for _, line := range lines {
		product, ok := r.products[line.ProductID]
		switch {
		case !ok:
			out = append(out, domain.StockShortfall{
				ProductID:         line.ProductID,
				ProductName:       line.ProductName,
				RequestedQuantity: line.Quantity,
				NotFound:          true,
			})
		case product.StockLevel < line.Quantity:
			out = append(out, domain.StockShortfall{
				ProductID:         line.ProductID,
				ProductName:       line.ProductName,
				RequestedQuantity: line.Quantity,
				AvailableStock:    product.StockLevel,
			})
		}
	}
	return out
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
