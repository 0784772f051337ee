package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/observability"
)

const (
	notificationKindOTP          = "otp"
	notificationKindConfirmation = "order_confirmation"

	defaultNotificationTimeout = 10 * time.Second
)

// ErrNotificationDispatcherClosed is reported when sends are attempted after Close.
var ErrNotificationDispatcherClosed = errors.New("notification: dispatcher closed")

// NotificationDispatcherDeps bundles collaborators required to construct the dispatcher.
type NotificationDispatcherDeps struct {
	Publisher   NotificationPublisher
	Timeout     time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationDispatcher struct {
	publisher NotificationPublisher
	timeout   time.Duration
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewNotificationDispatcher wires a publisher into a fire-and-forget dispatcher. Each send runs on its own
// goroutine detached from the request context and bounded by Timeout.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationDispatcher, error) {
	if deps.Publisher == nil {
		return nil, errors.New("notification dispatcher: publisher is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
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
	return &notificationDispatcher{
		publisher: deps.Publisher,
		timeout:   timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (d *notificationDispatcher) SendOTP(ctx context.Context, n OTPNotification) {
	message := d.renderOTP(n)
	d.dispatch(ctx, message)
}

func (d *notificationDispatcher) SendOrderConfirmation(ctx context.Context, order Order) {
	message, ok := d.renderConfirmation(order)
	if !ok {
		d.logger(ctx, "notification.skipped", map[string]any{
			"orderId": order.ID,
			"reason":  "no destination",
		})
		return
	}
	d.dispatch(ctx, message)
}

func (d *notificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification: drain: %w", ctx.Err())
	}
}

func (d *notificationDispatcher) dispatch(ctx context.Context, message NotificationMessage) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logFailure(ctx, message, ErrNotificationDispatcherClosed)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()

		id, err := d.publisher.PublishNotification(sendCtx, message)
		if err != nil {
			d.logFailure(sendCtx, message, err)
			return
		}
		d.logger(sendCtx, "notification.published", map[string]any{
			"notificationId": message.ID,
			"messageId":      id,
			"kind":           message.Kind,
			"channel":        message.Channel,
			"orderId":        message.OrderID,
		})
	}()
}

func (d *notificationDispatcher) logFailure(ctx context.Context, message NotificationMessage, err error) {
	d.logger(ctx, "notification.publish_failed", map[string]any{
		"notificationId": message.ID,
		"kind":           message.Kind,
		"channel":        message.Channel,
		"destination":    observability.MaskDestination(message.Destination),
		"orderId":        message.OrderID,
		"error":          err.Error(),
	})
}

func (d *notificationDispatcher) renderOTP(n OTPNotification) NotificationMessage {
	now := d.clock()
	reference := orderReference(n.OrderNumber, n.OrderID)
	minutes := 1
	if !n.ExpiresAt.IsZero() {
		issued := n.IssuedAt
		if issued.IsZero() {
			issued = now
		}
		minutes = max(1, int(math.Ceil(n.ExpiresAt.Sub(issued).Minutes())))
	}
	body := fmt.Sprintf("Your verification code for order %s is %s. It expires in %d minutes.", reference, n.Code, minutes)

	message := NotificationMessage{
		ID:          "ntf_" + d.newID(),
		Kind:        notificationKindOTP,
		Channel:     string(n.Channel),
		Destination: n.Destination,
		Body:        body,
		OrderID:     n.OrderID,
		OrderNumber: n.OrderNumber,
		QueuedAt:    now,
	}
	if n.Channel == domain.ChannelEmail {
		message.Subject = fmt.Sprintf("Verify your order %s", reference)
	}
	return message
}

func (d *notificationDispatcher) renderConfirmation(order Order) (NotificationMessage, bool) {
	channel, destination := domain.ChannelEmail, strings.TrimSpace(order.CustomerEmail)
	if destination == "" {
		channel, destination = domain.ChannelSMS, strings.TrimSpace(order.CustomerPhone)
	}
	if destination == "" {
		return NotificationMessage{}, false
	}
	reference := orderReference(order.OrderNumber, order.ID)
	name := strings.TrimSpace(order.CustomerName)
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf("Hi %s, thank you for your order %s. Total: %s %s. Status: %s.",
		name, reference, domain.FormatAmount(order.TotalAmount), order.Currency, order.Status)

	message := NotificationMessage{
		ID:          "ntf_" + d.newID(),
		Kind:        notificationKindConfirmation,
		Channel:     string(channel),
		Destination: destination,
		Body:        body,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		QueuedAt:    d.clock(),
	}
	if channel == domain.ChannelEmail {
		message.Subject = confirmationSubject(order.Status, reference)
	}
	return message, true
}

func confirmationSubject(status OrderStatus, reference string) string {
	if status == domain.OrderStatusConfirmed {
		return fmt.Sprintf("Order %s confirmed", reference)
	}
	return fmt.Sprintf("Order %s received", reference)
}

func orderReference(number, id string) string {
	if number = strings.TrimSpace(number); number != "" {
		return number
	}
	return id
}
