// Package payments reads payment state from external providers during checkout finalization.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// Payment statuses recorded on checkout payments.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusAuthorized = "AUTHORIZED"
	StatusPaid       = "PAID"
	StatusCancelled  = "CANCELLED"
)

const (
	paymentIntentPrefix  = "pi_"
	defaultStripeTimeout = 5 * time.Second
)

// StripeLogger matches the service logger signature.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeStatusConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Timeout   time.Duration
	Logger    StripeLogger

	intents stripePaymentIntentAPI
}

// StripeStatusResolver maps a PaymentIntent's live state onto checkout payment statuses.
type StripeStatusResolver struct {
	intents stripePaymentIntentAPI
	account string
	timeout time.Duration
	logger  StripeLogger
}

func NewStripeStatusResolver(cfg StripeStatusConfig) (*StripeStatusResolver, error) {
	intents := cfg.intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultStripeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeStatusResolver{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// ResolveStatus returns "" for references that are not PaymentIntents so callers keep the captured status.
func (r *StripeStatusResolver) ResolveStatus(ctx context.Context, providerRef string) (string, error) {
	id := strings.TrimSpace(providerRef)
	if !strings.HasPrefix(id, paymentIntentPrefix) {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if r.account != "" {
		params.SetStripeAccount(r.account)
	}
	intent, err := r.intents.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			r.logger(ctx, "stripe.payment_intent_lookup_failed", map[string]any{
				"intentId": id,
				"code":     string(stripeErr.Code),
				"status":   stripeErr.HTTPStatusCode,
			})
		}
		return "", fmt.Errorf("stripe: get payment intent %s: %w", id, err)
	}
	return mapIntentStatus(intent.Status), nil
}

func mapIntentStatus(status stripe.PaymentIntentStatus) string {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusPaid
	case stripe.PaymentIntentStatusRequiresCapture:
		return StatusAuthorized
	case stripe.PaymentIntentStatusProcessing:
		return StatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return StatusCancelled
	default:
		return StatusPending
	}
}
