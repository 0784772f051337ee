package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type fakeIntents struct {
	intent  *stripe.PaymentIntent
	err     error
	calls   int
	lastID  string
	account string
	hasCtx  bool
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.calls++
	f.lastID = id
	if params != nil {
		f.hasCtx = params.Context != nil
		if params.StripeAccount != nil {
			f.account = *params.StripeAccount
		}
	}
	return f.intent, f.err
}

func TestStripeStatusResolverMapsStatuses(t *testing.T) {
	cases := map[stripe.PaymentIntentStatus]string{
		stripe.PaymentIntentStatusSucceeded:             StatusPaid,
		stripe.PaymentIntentStatusRequiresCapture:       StatusAuthorized,
		stripe.PaymentIntentStatusProcessing:            StatusProcessing,
		stripe.PaymentIntentStatusCanceled:              StatusCancelled,
		stripe.PaymentIntentStatusRequiresPaymentMethod: StatusPending,
		stripe.PaymentIntentStatusRequiresAction:        StatusPending,
	}
	for status, want := range cases {
		intents := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_123", Status: status}}
		resolver, err := NewStripeStatusResolver(StripeStatusConfig{intents: intents, AccountID: "acct_1"})
		if err != nil {
			t.Fatalf("NewStripeStatusResolver: %v", err)
		}
		got, err := resolver.ResolveStatus(context.Background(), " pi_123 ")
		if err != nil {
			t.Fatalf("ResolveStatus(%s): %v", status, err)
		}
		if got != want {
			t.Fatalf("status %s: expected %s, got %s", status, want, got)
		}
		if intents.lastID != "pi_123" || intents.account != "acct_1" || !intents.hasCtx {
			t.Fatalf("unexpected request: id=%q account=%q ctx=%v", intents.lastID, intents.account, intents.hasCtx)
		}
	}
}

func TestStripeStatusResolverSkipsOtherReferences(t *testing.T) {
	intents := &fakeIntents{}
	resolver, _ := NewStripeStatusResolver(StripeStatusConfig{intents: intents})

	got, err := resolver.ResolveStatus(context.Background(), "paypal-order-9")
	if err != nil || got != "" {
		t.Fatalf("expected empty status, got %q (%v)", got, err)
	}
	if intents.calls != 0 {
		t.Fatalf("expected no stripe call, got %d", intents.calls)
	}
}

func TestStripeStatusResolverPropagatesErrors(t *testing.T) {
	var logged []string
	intents := &fakeIntents{err: &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404}}
	resolver, _ := NewStripeStatusResolver(StripeStatusConfig{
		intents: intents,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})

	_, err := resolver.ResolveStatus(context.Background(), "pi_missing")
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		t.Fatalf("expected stripe error, got %v", err)
	}
	if len(logged) != 1 || logged[0] != "stripe.payment_intent_lookup_failed" {
		t.Fatalf("unexpected log events %v", logged)
	}
}

func TestNewStripeStatusResolverRequiresKey(t *testing.T) {
	if _, err := NewStripeStatusResolver(StripeStatusConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
