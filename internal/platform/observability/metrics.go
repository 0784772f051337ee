package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/checkout/internal/domain"
)

const meterName = "github.com/hanko-field/checkout/internal/services"

// CheckoutMetrics records checkout counters on an OpenTelemetry meter. It satisfies services.CheckoutMetrics.
type CheckoutMetrics struct {
	otp            metric.Int64Counter
	stockConflicts metric.Int64Counter
	conflictLines  metric.Int64Histogram
	orders         metric.Int64Counter
}

// NewCheckoutMetrics registers the checkout instruments. A nil provider falls back to the global one.
func NewCheckoutMetrics(provider metric.MeterProvider) (*CheckoutMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	otp, err := meter.Int64Counter("checkout.otp.events",
		metric.WithDescription("OTP challenges by outcome (issued, verified, mismatch, expired, skipped)"))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("checkout.stock.conflicts",
		metric.WithDescription("Checkout attempts rejected for insufficient stock"))
	if err != nil {
		return nil, err
	}
	lines, err := meter.Int64Histogram("checkout.stock.conflict_lines",
		metric.WithDescription("Short lines per rejected checkout"))
	if err != nil {
		return nil, err
	}
	orders, err := meter.Int64Counter("checkout.orders",
		metric.WithDescription("Guest orders by resulting status"))
	if err != nil {
		return nil, err
	}
	return &CheckoutMetrics{
		otp:            otp,
		stockConflicts: conflicts,
		conflictLines:  lines,
		orders:         orders,
	}, nil
}

func (m *CheckoutMetrics) RecordOTP(ctx context.Context, outcome string, channel domain.NotificationChannel) {
	if m == nil {
		return
	}
	m.otp.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("channel", string(channel)),
	))
}

func (m *CheckoutMetrics) RecordStockConflict(ctx context.Context, lines int) {
	if m == nil {
		return
	}
	m.stockConflicts.Add(ctx, 1)
	m.conflictLines.Record(ctx, int64(lines))
}

func (m *CheckoutMetrics) RecordOrder(ctx context.Context, status domain.OrderStatus) {
	if m == nil {
		return
	}
	m.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}
