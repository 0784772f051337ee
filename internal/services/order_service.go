package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status change is not allowed from the current status.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the stored status changed underneath the caller.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store is temporarily unavailable.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:             {domain.OrderStatusConfirmed, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusPendingVerification: {domain.OrderStatusConfirmed, domain.OrderStatusNotVerified},
	domain.OrderStatusConfirmed:           {domain.OrderStatusShipped},
	domain.OrderStatusShipped:             {domain.OrderStatusDelivered},
}

var initialOrderStatuses = []OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusPendingVerification,
	domain.OrderStatusConfirmed,
}

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    CounterService
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	counters CounterService
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		counters: deps.Counters,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	if !slices.Contains(initialOrderStatuses, cmd.Status) {
		return Order{}, fmt.Errorf("%w: orders cannot be created as %q", ErrOrderInvalidInput, cmd.Status)
	}

	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: allocate order number: %w", err)
	}

	now := s.clock()
	order := Order{
		ID:              ensurePrefixedID("ord_", s.newID()),
		OrderNumber:     number,
		CustomerName:    cmd.CustomerName,
		CustomerEmail:   cmd.CustomerEmail,
		CustomerPhone:   cmd.CustomerPhone,
		Status:          cmd.Status,
		TotalAmount:     cmd.TotalAmount,
		Currency:        cmd.Currency,
		ShippingAddress: cmd.ShippingAddress,
		Notes:           cmd.Notes,
		Lines:           append([]CartLine(nil), cmd.Lines...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if cmd.Status == domain.OrderStatusConfirmed {
		confirmed := now
		order.ConfirmedAt = &confirmed
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"status":      string(order.Status),
	})
	return order, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	current := cmd.ExpectedStatus
	if current == nil {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		status := order.Status
		current = &status
	}

	if !canTransition(*current, cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, *current, cmd.TargetStatus)
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID, []OrderStatus{*current}, cmd.TargetStatus, s.clock())
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	fields := map[string]any{
		"orderId": orderID,
		"from":    string(*current),
		"to":      string(cmd.TargetStatus),
	}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		fields["reason"] = reason
	}
	s.logger(ctx, "order.status_changed", fields)
	return updated, nil
}

func (s *orderService) Confirm(ctx context.Context, cmd ConfirmOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !canTransition(cmd.ExpectedStatus, domain.OrderStatusConfirmed) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, cmd.ExpectedStatus, domain.OrderStatusConfirmed)
	}
	if cmd.Payment.OrderID != orderID || cmd.Shipment.OrderID != orderID {
		return Order{}, fmt.Errorf("%w: payment and shipment must reference order %s", ErrOrderInvalidInput, orderID)
	}

	confirmed, err := s.orders.Confirm(ctx, orderID, []OrderStatus{cmd.ExpectedStatus}, cmd.Payment, cmd.Shipment, s.clock())
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	fields := map[string]any{
		"orderId":    orderID,
		"from":       string(cmd.ExpectedStatus),
		"to":         string(domain.OrderStatusConfirmed),
		"paymentId":  cmd.Payment.ID,
		"shipmentId": cmd.Shipment.ID,
	}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		fields["reason"] = reason
	}
	s.logger(ctx, "order.status_changed", fields)
	return confirmed, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("order: %w", err)
}

func canTransition(current, target OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func ensurePrefixedID(prefix, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if strings.HasPrefix(trimmed, prefix) {
		return trimmed
	}
	return prefix + trimmed
}
