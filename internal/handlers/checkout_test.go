package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/services"
)

type stubCheckoutService struct {
	checkStockFunc func(context.Context, []services.CartLine) (services.StockCheckResult, error)
	createFunc     func(context.Context, services.GuestOrderCommand) (services.GuestOrderResult, error)
	confirmFunc    func(context.Context, services.GuestOrderCommand) (services.GuestOrderResult, error)
	confirmOTPFunc func(context.Context, services.GuestOrderCommand, services.NotificationChannel, string) (services.GuestOrderResult, error)
	requestOTPFunc func(context.Context, services.RequestOTPCommand) (services.RequestOTPResult, error)
	finalizeFunc   func(context.Context, services.FinalizeCommand) (services.FinalizeResult, error)
	skipFunc       func(context.Context, string) (services.FinalizeResult, error)
	inspectFunc    func(context.Context, string) (services.OrderInspection, error)
	sweepFunc      func(context.Context) (int, error)
}

func (s *stubCheckoutService) CheckStock(ctx context.Context, lines []services.CartLine) (services.StockCheckResult, error) {
	if s.checkStockFunc != nil {
		return s.checkStockFunc(ctx, lines)
	}
	return services.StockCheckResult{Available: true}, nil
}

func (s *stubCheckoutService) CreateGuestOrder(ctx context.Context, cmd services.GuestOrderCommand) (services.GuestOrderResult, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.GuestOrderResult{}, errors.New("not implemented")
}

func (s *stubCheckoutService) ConfirmGuestOrder(ctx context.Context, cmd services.GuestOrderCommand) (services.GuestOrderResult, error) {
	if s.confirmFunc != nil {
		return s.confirmFunc(ctx, cmd)
	}
	return services.GuestOrderResult{}, errors.New("not implemented")
}

func (s *stubCheckoutService) ConfirmGuestOrderWithOTP(ctx context.Context, cmd services.GuestOrderCommand, channel services.NotificationChannel, destination string) (services.GuestOrderResult, error) {
	if s.confirmOTPFunc != nil {
		return s.confirmOTPFunc(ctx, cmd, channel, destination)
	}
	return services.GuestOrderResult{}, errors.New("not implemented")
}

func (s *stubCheckoutService) RequestOTP(ctx context.Context, cmd services.RequestOTPCommand) (services.RequestOTPResult, error) {
	if s.requestOTPFunc != nil {
		return s.requestOTPFunc(ctx, cmd)
	}
	return services.RequestOTPResult{OrderID: cmd.OrderID, Channel: domain.ChannelSMS}, nil
}

func (s *stubCheckoutService) Finalize(ctx context.Context, cmd services.FinalizeCommand) (services.FinalizeResult, error) {
	if s.finalizeFunc != nil {
		return s.finalizeFunc(ctx, cmd)
	}
	return services.FinalizeResult{}, errors.New("not implemented")
}

func (s *stubCheckoutService) FinalizeSkip(ctx context.Context, orderID string) (services.FinalizeResult, error) {
	if s.skipFunc != nil {
		return s.skipFunc(ctx, orderID)
	}
	return services.FinalizeResult{}, errors.New("not implemented")
}

func (s *stubCheckoutService) InspectOrder(ctx context.Context, orderID string) (services.OrderInspection, error) {
	if s.inspectFunc != nil {
		return s.inspectFunc(ctx, orderID)
	}
	return services.OrderInspection{}, errors.New("not implemented")
}

func (s *stubCheckoutService) SweepChallenges(ctx context.Context) (int, error) {
	if s.sweepFunc != nil {
		return s.sweepFunc(ctx)
	}
	return 0, nil
}

func newCheckoutTestRouter(svc services.CheckoutService, opts ...CheckoutOption) chi.Router {
	router := chi.NewRouter()
	NewCheckoutHandlers(svc, opts...).Routes(router)
	return router
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

const sampleOrderBody = `{
	"items": [{"productId":"P1","productName":"Slim Fit","size":"32","quantity":2,"price":59.99}],
	"shipmentDetails": {"name":"Jane Doe","email":"jane@example.com","phone":"+15550001111","address":"123 Main St","city":"New York","postalCode":"10001"},
	"payment": {"type":"credit_card","status":"completed","paymentIntentId":"pi_123"},
	"totalAmount": "119.98"
}`

func TestCheckoutHandlersCreateOrderDecodesMoney(t *testing.T) {
	var captured services.GuestOrderCommand
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	router := newCheckoutTestRouter(&stubCheckoutService{
		createFunc: func(_ context.Context, cmd services.GuestOrderCommand) (services.GuestOrderResult, error) {
			captured = cmd
			return services.GuestOrderResult{Order: domain.Order{
				ID:          "ord_1",
				OrderNumber: "ORD-2025-000001",
				Status:      domain.OrderStatusPending,
				TotalAmount: 11998,
				Currency:    "USD",
				Lines:       cmd.Lines,
				CreatedAt:   created,
			}}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(sampleOrderBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Lines) != 1 || captured.Lines[0].UnitPrice != 5999 || captured.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines %#v", captured.Lines)
	}
	if captured.TotalAmount != 11998 {
		t.Fatalf("expected total 11998, got %d", captured.TotalAmount)
	}
	if captured.Shipment == nil || captured.Shipment.PostalCode != "10001" {
		t.Fatalf("shipment not decoded: %#v", captured.Shipment)
	}
	if captured.Payment == nil || captured.Payment.IntentID != "pi_123" {
		t.Fatalf("payment not decoded: %#v", captured.Payment)
	}

	body := decodeBody(t, rr)
	if body["status"] != "Pending" || body["orderNumber"] != "ORD-2025-000001" {
		t.Fatalf("unexpected body %#v", body)
	}
	if body["totalAmount"] != 119.98 {
		t.Fatalf("expected decimal total, got %#v", body["totalAmount"])
	}
}

func TestCheckoutHandlersRejectsInvalidBodies(t *testing.T) {
	router := newCheckoutTestRouter(&stubCheckoutService{})

	cases := map[string]string{
		"empty":     "",
		"malformed": "{",
		"no items":  `{"items":[]}`,
		"bad price": `{"items":[{"productId":"P1","quantity":1,"price":1.999}]}`,
		"negative":  `{"items":[{"productId":"P1","quantity":1,"price":-1}]}`,
		"bad total": `{"items":[{"productId":"P1","quantity":1,"price":1}],"totalAmount":"abc"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/orders/confirm", bytes.NewBufferString(payload))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if body := decodeBody(t, rr); body["error"] != "invalid_request" {
				t.Fatalf("expected invalid_request, got %#v", body["error"])
			}
		})
	}
}

func TestCheckoutHandlersStockConflict(t *testing.T) {
	router := newCheckoutTestRouter(&stubCheckoutService{
		createFunc: func(context.Context, services.GuestOrderCommand) (services.GuestOrderResult, error) {
			return services.GuestOrderResult{}, &services.StockConflictError{Shortfalls: []domain.StockShortfall{
				{ProductID: "P1", ProductName: "Slim Fit", RequestedQuantity: 2, AvailableStock: 1},
				{ProductID: "P9", RequestedQuantity: 1, NotFound: true},
			}}
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(sampleOrderBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "out_of_stock" {
		t.Fatalf("expected out_of_stock, got %#v", body["error"])
	}
	stockErrors, _ := body["stockErrors"].([]any)
	if len(stockErrors) != 2 || stockErrors[0] != "Slim Fit: only 1 available (requested 2)" || stockErrors[1] != "product not found" {
		t.Fatalf("unexpected stockErrors %#v", body["stockErrors"])
	}
	issues, _ := body["issues"].([]any)
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %#v", body["issues"])
	}
	if missing, _ := issues[1].(map[string]any); missing["error"] != "Product not found" {
		t.Fatalf("expected not-found marker, got %#v", issues[1])
	}
}

func TestCheckoutHandlersConfirmWithOTPPassesQuery(t *testing.T) {
	expires := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)
	var gotChannel services.NotificationChannel
	var gotDestination string
	router := newCheckoutTestRouter(&stubCheckoutService{
		confirmOTPFunc: func(_ context.Context, _ services.GuestOrderCommand, channel services.NotificationChannel, destination string) (services.GuestOrderResult, error) {
			gotChannel, gotDestination = channel, destination
			return services.GuestOrderResult{
				Order:              domain.Order{ID: "ord_1", OrderNumber: "ORD-2025-000001", Status: domain.OrderStatusPendingVerification},
				Channel:            domain.ChannelEmail,
				VerificationSentTo: "j**@example.com",
				ExpiresAt:          expires,
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/orders/confirm-with-otp?channel=email&destination=jane%40example.com", bytes.NewBufferString(sampleOrderBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotChannel != domain.ChannelEmail || gotDestination != "jane@example.com" {
		t.Fatalf("unexpected channel/destination %q %q", gotChannel, gotDestination)
	}
	body := decodeBody(t, rr)
	if body["status"] != "PendingVerification" || body["sentTo"] != "j**@example.com" {
		t.Fatalf("unexpected body %#v", body)
	}
	if body["expiresAt"] != "2025-03-01T12:05:00Z" {
		t.Fatalf("unexpected expiresAt %#v", body["expiresAt"])
	}
}

func TestCheckoutHandlersVerifyOTPErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
		want int
	}{
		{name: "mismatch", err: services.ErrChallengeMismatch, code: "otp_invalid", want: http.StatusBadRequest},
		{name: "not found", err: services.ErrChallengeNotFound, code: "otp_invalid", want: http.StatusBadRequest},
		{name: "expired", err: services.ErrChallengeExpired, code: "otp_expired", want: http.StatusBadRequest},
		{name: "missing code", err: services.ErrCheckoutInvalidInput, code: "invalid_request", want: http.StatusBadRequest},
		{name: "unavailable", err: services.ErrCheckoutUnavailable, code: "checkout_unavailable", want: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var captured services.FinalizeCommand
			router := newCheckoutTestRouter(&stubCheckoutService{
				finalizeFunc: func(_ context.Context, cmd services.FinalizeCommand) (services.FinalizeResult, error) {
					captured = cmd
					return services.FinalizeResult{}, tc.err
				},
			})
			req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/verify-otp", bytes.NewBufferString(`{"phoneNumber":"+15550001111","otp":"123456"}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if body := decodeBody(t, rr); body["error"] != tc.code {
				t.Fatalf("expected %s, got %#v", tc.code, body["error"])
			}
			if captured.OrderID != "ord_1" || captured.Destination != "+15550001111" || captured.Code != "123456" {
				t.Fatalf("unexpected command %#v", captured)
			}
		})
	}
}

func TestCheckoutHandlersVerifyOTPKeepsDestinationVerbatim(t *testing.T) {
	var captured services.FinalizeCommand
	router := newCheckoutTestRouter(&stubCheckoutService{
		finalizeFunc: func(_ context.Context, cmd services.FinalizeCommand) (services.FinalizeResult, error) {
			captured = cmd
			return services.FinalizeResult{}, services.ErrChallengeMismatch
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord_1/verify-otp", bytes.NewBufferString(`{"email":" Jane@Example.com ","code":"123456"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if captured.Destination != " Jane@Example.com " {
		t.Fatalf("expected untouched destination, got %q", captured.Destination)
	}
}

func TestCheckoutHandlersSkipVerify(t *testing.T) {
	router := newCheckoutTestRouter(&stubCheckoutService{
		skipFunc: func(_ context.Context, orderID string) (services.FinalizeResult, error) {
			if orderID == "missing" {
				return services.FinalizeResult{}, services.ErrChallengeNotFound
			}
			return services.FinalizeResult{Order: domain.Order{ID: orderID, Status: domain.OrderStatusConfirmed}}, nil
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord_1/skip-verify", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["status"] != "Confirmed" || body["orderId"] != "ord_1" {
		t.Fatalf("unexpected body %#v", body)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/missing/skip-verify", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCheckoutHandlersRequestOTP(t *testing.T) {
	var captured services.RequestOTPCommand
	router := newCheckoutTestRouter(&stubCheckoutService{
		requestOTPFunc: func(_ context.Context, cmd services.RequestOTPCommand) (services.RequestOTPResult, error) {
			captured = cmd
			switch cmd.OrderID {
			case "missing":
				return services.RequestOTPResult{}, services.ErrCheckoutOrderNotFound
			case "done":
				return services.RequestOTPResult{}, services.ErrCheckoutNotAwaitingVerification
			}
			return services.RequestOTPResult{OrderID: cmd.OrderID, Channel: domain.ChannelSMS}, nil
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord_1/request-otp", bytes.NewBufferString(`{"phoneNumber":"+15550001111"}`)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if captured.Destination != "+15550001111" {
		t.Fatalf("expected destination passed through, got %q", captured.Destination)
	}
	if body := decodeBody(t, rr); body["message"] != "OTP requested" || body["orderId"] != "ord_1" {
		t.Fatalf("unexpected body %#v", body)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/missing/request-otp", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/done/request-otp?channel=email", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if captured.Channel != domain.ChannelEmail {
		t.Fatalf("expected channel from query, got %q", captured.Channel)
	}
}

func TestCheckoutHandlersRequestOTPRateLimited(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	router := newCheckoutTestRouter(&stubCheckoutService{},
		WithOTPRequestLimit(2, time.Minute),
		WithCheckoutClock(func() time.Time { return now }),
	)

	send := func(orderID string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/"+orderID+"/request-otp", nil))
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := send("ord_1"); rr.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i, rr.Code)
		}
	}
	rr := send("ord_1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rr.Header().Get("Retry-After"))
	}
	if rr := send("ord_2"); rr.Code != http.StatusAccepted {
		t.Fatalf("other orders must not be limited, got %d", rr.Code)
	}

	now = now.Add(time.Minute)
	if rr := send("ord_1"); rr.Code != http.StatusAccepted {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}

func TestCheckoutHandlersRequestOTPLimitIsPerClient(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	router := newCheckoutTestRouter(&stubCheckoutService{},
		WithOTPRequestLimit(1, time.Minute),
		WithCheckoutClock(func() time.Time { return now }),
	)

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/request-otp", nil)
		req.RemoteAddr = remoteAddr
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("198.51.100.7:4000"); rr.Code != http.StatusAccepted {
		t.Fatalf("first client: expected 202, got %d", rr.Code)
	}
	if rr := send("198.51.100.7:4001"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("same client on a new port: expected 429, got %d", rr.Code)
	}
	if rr := send("203.0.113.9:4000"); rr.Code != http.StatusAccepted {
		t.Fatalf("second client must not share the first client's budget, got %d", rr.Code)
	}

	now = now.Add(30 * time.Second)
	rr := send("198.51.100.7:4000")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the window to slide, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After 30, got %q", rr.Header().Get("Retry-After"))
	}
}

func TestCheckoutHandlersStockCheckAcceptsBareArray(t *testing.T) {
	var captured []services.CartLine
	router := newCheckoutTestRouter(&stubCheckoutService{
		checkStockFunc: func(_ context.Context, lines []services.CartLine) (services.StockCheckResult, error) {
			captured = lines
			return services.StockCheckResult{
				Available: false,
				Issues:    []domain.StockShortfall{{ProductID: "P1", ProductName: "Slim Fit", RequestedQuantity: 3, AvailableStock: 1}},
			}, nil
		},
	})

	for _, payload := range []string{
		`[{"productId":"P1","productName":"Slim Fit","quantity":3,"price":"10.00"}]`,
		`{"items":[{"productId":"P1","productName":"Slim Fit","quantity":3,"price":"10.00"}]}`,
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/stock-check", bytes.NewBufferString(payload)))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if len(captured) != 1 || captured[0].Quantity != 3 || captured[0].UnitPrice != 1000 {
			t.Fatalf("unexpected lines %#v", captured)
		}
		body := decodeBody(t, rr)
		if body["available"] != false {
			t.Fatalf("expected unavailable, got %#v", body)
		}
		issues, _ := body["issues"].([]any)
		if len(issues) != 1 {
			t.Fatalf("expected one issue, got %#v", body["issues"])
		}
	}
}
