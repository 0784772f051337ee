package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/checkout/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates at least one line exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
)

// StockConflictError lists every line that could not be reserved.
type StockConflictError struct {
	Shortfalls []StockShortfall
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInventoryInsufficientStock, strings.Join(e.Messages(), "; "))
}

func (e *StockConflictError) Unwrap() error { return ErrInventoryInsufficientStock }

// Is lets callers match the checkout level sentinel as well.
func (e *StockConflictError) Is(target error) bool { return target == ErrCheckoutStockConflict }

// Messages renders one human readable line per shortfall.
func (e *StockConflictError) Messages() []string {
	out := make([]string, 0, len(e.Shortfalls))
	for _, shortfall := range e.Shortfalls {
		out = append(out, ShortfallMessage(shortfall))
	}
	return out
}

// ShortfallMessage formats a shortfall as "<name>: only N available (requested M)". The name prefix is
// omitted when the cart line carried no product name.
func ShortfallMessage(s StockShortfall) string {
	var detail string
	if s.NotFound {
		detail = "product not found"
	} else {
		detail = fmt.Sprintf("only %d available (requested %d)", s.AvailableStock, s.RequestedQuantity)
	}
	name := strings.TrimSpace(s.ProductName)
	if name == "" {
		return detail
	}
	return name + ": " + detail
}

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *inventoryService) CheckAvailability(ctx context.Context, lines []CartLine) ([]StockShortfall, error) {
	aggregated, err := aggregateStockLines(lines)
	if err != nil {
		return nil, err
	}
	shortfalls, err := s.repo.Check(ctx, aggregated)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return shortfalls, nil
}

func (s *inventoryService) Reserve(ctx context.Context, lines []CartLine) (StockReservation, error) {
	aggregated, err := aggregateStockLines(lines)
	if err != nil {
		return StockReservation{}, err
	}
	now := s.clock()
	if err := s.repo.CheckAndReserve(ctx, aggregated, now); err != nil {
		return StockReservation{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "inventory.reserve", map[string]any{"lines": len(aggregated)})
	return StockReservation{Lines: aggregated, ReservedAt: now}, nil
}

func (s *inventoryService) Release(ctx context.Context, reservation StockReservation) error {
	if len(reservation.Lines) == 0 {
		return nil
	}
	if err := s.repo.Release(ctx, reservation.Lines, s.clock()); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "inventory.release", map[string]any{"lines": len(reservation.Lines)})
	return nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &StockConflictError{Shortfalls: invErr.Shortfalls}
		case repositories.InventoryErrorInvalidQuantity, repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}

	return err
}

// aggregateStockLines merges lines for the same product, preserving first-seen order so shortfall lists
// follow the cart.
func aggregateStockLines(lines []CartLine) ([]repositories.StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	index := make(map[string]int, len(lines))
	result := make([]repositories.StockLine, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
		}
		if i, ok := index[productID]; ok {
			result[i].Quantity += line.Quantity
			continue
		}
		index[productID] = len(result)
		result = append(result, repositories.StockLine{
			ProductID:   productID,
			ProductName: strings.TrimSpace(line.ProductName),
			Quantity:    line.Quantity,
		})
	}
	return result, nil
}
