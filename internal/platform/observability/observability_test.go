package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

func TestMaskDestination(t *testing.T) {
	cases := map[string]string{
		"":                  "",
		"jane@example.com":  "j***@example.com",
		"a@example.com":     "a**@example.com",
		"+15550100":         "*******00",
		"7":                 "*",
		"bad\x00@host.test": "b**@host.test",
	}
	for input, want := range cases {
		assert.Equal(t, want, MaskDestination(input), input)
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logEvent := EventLogger(zap.New(core))

	logEvent(context.Background(), "checkout.order_created", map[string]any{"orderId": "ord_1"})
	logEvent(context.Background(), "notification.publish_failed", map[string]any{"error": "boom"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "ord_1", entries[0].ContextMap()["orderId"])
	assert.Equal(t, "checkout.order_created", entries[0].ContextMap()["event"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)
	logEvent := EventLogger(zap.New(baseCore))

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore).With(zap.String("request_id", "req-1")))
	logEvent(ctx, "checkout.otp_issued", nil)

	assert.Zero(t, baseLogs.Len())
	require.Equal(t, 1, reqLogs.Len())
	assert.Equal(t, "req-1", reqLogs.All()[0].ContextMap()["request_id"])
}

func TestRequestLoggerMiddlewareLogsOrderAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(RequestLoggerMiddleware())
	router.Use(RecoveryMiddleware(nil))
	router.Post("/orders/{orderID}/verify-otp", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord_9/verify-otp", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "internal_server_error")

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 2)
	assert.Equal(t, zapcore.WarnLevel, completed[0].Level)
	assert.Equal(t, "ord_9", completed[0].ContextMap()["order_id"])
	assert.Equal(t, "/orders/{orderID}/verify-otp", completed[0].ContextMap()["route"])
	assert.Equal(t, zapcore.ErrorLevel, completed[1].Level)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestCheckoutMetricsRecordsWithoutPanicking(t *testing.T) {
	metrics, err := NewCheckoutMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordOTP(ctx, "issued", domain.ChannelSMS)
	metrics.RecordStockConflict(ctx, 2)
	metrics.RecordOrder(ctx, domain.OrderStatusConfirmed)

	var nilMetrics *CheckoutMetrics
	nilMetrics.RecordOrder(ctx, domain.OrderStatusPending)
}
