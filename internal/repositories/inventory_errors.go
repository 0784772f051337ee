package repositories

import (
	"fmt"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInsufficientStock indicates at least one line exceeds the available stock.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorProductNotFound indicates the product has no stock record.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
	// InventoryErrorInvalidQuantity indicates a non-positive quantity reached the repository.
	InventoryErrorInvalidQuantity InventoryErrorCode = "inventory_invalid_quantity"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op         string
	Code       InventoryErrorCode
	Message    string
	Shortfalls []domain.StockShortfall
	Err        error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError reports every short line at once.
func NewInsufficientStockError(op string, shortfalls []domain.StockShortfall) *InventoryError {
	copied := make([]domain.StockShortfall, len(shortfalls))
	copy(copied, shortfalls)
	return &InventoryError{
		Op:         op,
		Code:       InventoryErrorInsufficientStock,
		Message:    fmt.Sprintf("%d line(s) cannot be satisfied", len(copied)),
		Shortfalls: copied,
	}
}
