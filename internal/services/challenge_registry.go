package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/observability"
)

const (
	challengeShardCount    = 32
	defaultChallengeLength = 6
	minChallengeLength     = 4
	minChallengeTTL        = time.Minute
)

var (
	// ErrChallengeInvalidInput indicates the issue command is incomplete.
	ErrChallengeInvalidInput = errors.New("challenge: invalid input")
	// ErrChallengeNotFound indicates no challenge is pending for the order.
	ErrChallengeNotFound = errors.New("challenge: not found")
	// ErrChallengeMismatch indicates the destination or code did not match.
	ErrChallengeMismatch = errors.New("challenge: code or destination mismatch")
	// ErrChallengeExpired indicates the challenge expired before it was verified.
	ErrChallengeExpired = errors.New("challenge: expired")
)

// ChallengeRegistryDeps bundles the collaborators required to construct a challenge registry.
type ChallengeRegistryDeps struct {
	Notifier   NotificationDispatcher
	Metrics    CheckoutMetrics
	CodeLength int
	Clock      func() time.Time
	Random     io.Reader
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type challengeShard struct {
	mu      sync.Mutex
	entries map[string]Challenge
}

type challengeRegistry struct {
	shards     [challengeShardCount]*challengeShard
	notifier   NotificationDispatcher
	metrics    CheckoutMetrics
	codeLength int
	clock      func() time.Time
	random     io.Reader
	logger     func(context.Context, string, map[string]any)
}

// NewChallengeRegistry constructs an in-memory registry. Challenges are sharded by order id so unrelated
// orders never wait on each other.
func NewChallengeRegistry(deps ChallengeRegistryDeps) (ChallengeRegistry, error) {
	length := deps.CodeLength
	if length == 0 {
		length = defaultChallengeLength
	}
	if length < minChallengeLength {
		length = minChallengeLength
	}
	if length > 18 {
		return nil, fmt.Errorf("challenge registry: code length %d too long", length)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	random := deps.Random
	if random == nil {
		random = rand.Reader
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopCheckoutMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	r := &challengeRegistry{
		notifier:   deps.Notifier,
		metrics:    metrics,
		codeLength: length,
		clock: func() time.Time {
			return clock().UTC()
		},
		random: random,
		logger: logger,
	}
	for i := range r.shards {
		r.shards[i] = &challengeShard{entries: make(map[string]Challenge)}
	}
	return r, nil
}

func (r *challengeRegistry) Issue(ctx context.Context, cmd IssueChallengeCommand) (Challenge, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Challenge{}, fmt.Errorf("%w: order id is required", ErrChallengeInvalidInput)
	}
	if cmd.Destination == "" {
		return Challenge{}, fmt.Errorf("%w: destination is required", ErrChallengeInvalidInput)
	}
	channel := cmd.Channel
	if channel == "" {
		channel = domain.ChannelSMS
	}
	if channel != domain.ChannelSMS && channel != domain.ChannelEmail {
		return Challenge{}, fmt.Errorf("%w: unsupported channel %q", ErrChallengeInvalidInput, channel)
	}

	code, err := r.generateCode()
	if err != nil {
		return Challenge{}, fmt.Errorf("challenge: generate code: %w", err)
	}

	now := r.clock()
	challenge := Challenge{
		OrderID:     orderID,
		Destination: cmd.Destination,
		Channel:     channel,
		Code:        code,
		IssuedAt:    now,
		ExpiresAt:   now.Add(max(cmd.TTL, minChallengeTTL)),
		Payload:     cmd.Payload,
	}

	shard := r.shard(orderID)
	shard.mu.Lock()
	_, replaced := shard.entries[orderID]
	shard.entries[orderID] = challenge
	shard.mu.Unlock()

	r.metrics.RecordOTP(ctx, "issued", channel)
	r.logger(ctx, "challenge.issued", map[string]any{
		"orderId":     orderID,
		"channel":     string(channel),
		"destination": observability.MaskDestination(challenge.Destination),
		"expiresAt":   challenge.ExpiresAt,
		"replaced":    replaced,
	})

	if r.notifier != nil {
		r.notifier.SendOTP(ctx, OTPNotification{
			OrderID:     orderID,
			OrderNumber: cmd.OrderNumber,
			Channel:     channel,
			Destination: challenge.Destination,
			Code:        code,
			ExpiresAt:   challenge.ExpiresAt,
			IssuedAt:    now,
		})
	}
	return challenge, nil
}

func (r *challengeRegistry) Verify(ctx context.Context, orderID, destination, code string) (VerifyResult, error) {
	orderID = strings.TrimSpace(orderID)
	now := r.clock()

	shard := r.shard(orderID)
	shard.mu.Lock()
	challenge, ok := shard.entries[orderID]
	var result VerifyResult
	switch {
	case !ok:
		result = VerifyResult{Outcome: VerifyOutcomeNotFound}
	case challenge.Destination != destination:
		result = VerifyResult{Outcome: VerifyOutcomeMismatch}
	case challenge.Expired(now):
		delete(shard.entries, orderID)
		result = VerifyResult{Outcome: VerifyOutcomeExpired, Challenge: challenge}
	case subtle.ConstantTimeCompare([]byte(challenge.Code), []byte(strings.TrimSpace(code))) != 1:
		result = VerifyResult{Outcome: VerifyOutcomeMismatch}
	default:
		delete(shard.entries, orderID)
		result = VerifyResult{Outcome: VerifyOutcomeVerified, Challenge: challenge}
	}
	shard.mu.Unlock()

	channel := challenge.Channel
	r.metrics.RecordOTP(ctx, string(result.Outcome), channel)
	r.logger(ctx, "challenge.verify", map[string]any{
		"orderId": orderID,
		"outcome": string(result.Outcome),
	})
	return result, nil
}

func (r *challengeRegistry) Skip(ctx context.Context, orderID string) (Challenge, bool) {
	orderID = strings.TrimSpace(orderID)
	shard := r.shard(orderID)
	shard.mu.Lock()
	challenge, ok := shard.entries[orderID]
	if ok {
		delete(shard.entries, orderID)
	}
	shard.mu.Unlock()

	if ok {
		r.metrics.RecordOTP(ctx, "skipped", challenge.Channel)
		r.logger(ctx, "challenge.skipped", map[string]any{"orderId": orderID})
	}
	return challenge, ok
}

func (r *challengeRegistry) Restore(ctx context.Context, challenge Challenge) bool {
	orderID := strings.TrimSpace(challenge.OrderID)
	if orderID == "" || challenge.Code == "" {
		return false
	}
	shard := r.shard(orderID)
	shard.mu.Lock()
	_, exists := shard.entries[orderID]
	if !exists {
		shard.entries[orderID] = challenge
	}
	shard.mu.Unlock()

	if !exists {
		r.logger(ctx, "challenge.restored", map[string]any{
			"orderId":   orderID,
			"expiresAt": challenge.ExpiresAt,
		})
	}
	return !exists
}

func (r *challengeRegistry) Revoke(orderID, code string) bool {
	orderID = strings.TrimSpace(orderID)
	shard := r.shard(orderID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	challenge, ok := shard.entries[orderID]
	if !ok || challenge.Code != code {
		return false
	}
	delete(shard.entries, orderID)
	return true
}

func (r *challengeRegistry) Peek(orderID string) (Challenge, bool) {
	orderID = strings.TrimSpace(orderID)
	shard := r.shard(orderID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	challenge, ok := shard.entries[orderID]
	return challenge, ok
}

func (r *challengeRegistry) Pending(orderID string) (ChallengeStatus, bool) {
	challenge, ok := r.Peek(orderID)
	if !ok {
		return ChallengeStatus{}, false
	}
	return ChallengeStatus{
		OrderID:           challenge.OrderID,
		Channel:           challenge.Channel,
		MaskedDestination: observability.MaskDestination(challenge.Destination),
		IssuedAt:          challenge.IssuedAt,
		ExpiresAt:         challenge.ExpiresAt,
		Expired:           challenge.Expired(r.clock()),
	}, true
}

func (r *challengeRegistry) Sweep(now time.Time) int {
	removed := 0
	for _, shard := range r.shards {
		shard.mu.Lock()
		for orderID, challenge := range shard.entries {
			if challenge.Expired(now) {
				delete(shard.entries, orderID)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// RunSweeper removes expired challenges every interval until ctx is cancelled. Swept orders keep their
// status; only a verify attempt moves an order to NotVerified.
func (r *challengeRegistry) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := r.Sweep(r.clock()); removed > 0 {
				r.logger(ctx, "challenge.swept", map[string]any{"removed": removed})
			}
		}
	}
}

func (r *challengeRegistry) shard(orderID string) *challengeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return r.shards[h.Sum32()%challengeShardCount]
}

func (r *challengeRegistry) generateCode() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(r.codeLength)), nil)
	n, err := rand.Int(r.random, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", r.codeLength, n), nil
}
