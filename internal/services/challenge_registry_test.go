package services

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	domain "github.com/hanko-field/checkout/internal/domain"
)

var registryEpoch = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, deps ChallengeRegistryDeps) (ChallengeRegistry, *fakeClock) {
	t.Helper()
	clock := newFakeClock(registryEpoch)
	if deps.Clock == nil {
		deps.Clock = clock.Now
	}
	registry, err := NewChallengeRegistry(deps)
	require.NoError(t, err)
	return registry, clock
}

func TestChallengeRegistryIssueGeneratesPaddedCode(t *testing.T) {
	notifier := &recordingNotifier{}
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{Notifier: notifier, Random: zeroReader()})

	challenge, err := registry.Issue(context.Background(), IssueChallengeCommand{
		OrderID:     "ord_1",
		OrderNumber: "ORD-2025-000001",
		Destination: "+15550100",
		TTL:         300 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "000000", challenge.Code)
	assert.Equal(t, domain.ChannelSMS, challenge.Channel)
	assert.Equal(t, registryEpoch.Add(300*time.Second), challenge.ExpiresAt)

	sent, ok := notifier.lastOTP()
	require.True(t, ok)
	assert.Equal(t, "000000", sent.Code)
	assert.Equal(t, "+15550100", sent.Destination)
	assert.Equal(t, "ORD-2025-000001", sent.OrderNumber)
}

func TestChallengeRegistryCodeLengthAndTTLFloors(t *testing.T) {
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{CodeLength: 2})

	challenge, err := registry.Issue(context.Background(), IssueChallengeCommand{
		OrderID:     "ord_1",
		Destination: "shopper@example.com",
		Channel:     domain.ChannelEmail,
		TTL:         5 * time.Second,
	})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^\d{4}$`), challenge.Code)
	assert.Equal(t, registryEpoch.Add(time.Minute), challenge.ExpiresAt)
}

func TestChallengeRegistryDefaultCodeIsSixDigits(t *testing.T) {
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{})
	for i := 0; i < 20; i++ {
		challenge, err := registry.Issue(context.Background(), IssueChallengeCommand{OrderID: "ord_1", Destination: "+1"})
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), challenge.Code)
	}
}

func TestChallengeRegistryIssueRejectsInvalidInput(t *testing.T) {
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{})
	ctx := context.Background()

	_, err := registry.Issue(ctx, IssueChallengeCommand{Destination: "+1"})
	assert.ErrorIs(t, err, ErrChallengeInvalidInput)
	_, err = registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_1"})
	assert.ErrorIs(t, err, ErrChallengeInvalidInput)
	_, err = registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_1", Destination: "+1", Channel: "pigeon"})
	assert.ErrorIs(t, err, ErrChallengeInvalidInput)
}

func TestChallengeRegistryVerifyOutcomes(t *testing.T) {
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{})
	ctx := context.Background()

	result, err := registry.Verify(ctx, "ord_1", "+1", "123456")
	require.NoError(t, err)
	assert.Equal(t, VerifyOutcomeNotFound, result.Outcome)

	challenge, err := registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_1", Destination: "shopper@example.com", Channel: domain.ChannelEmail})
	require.NoError(t, err)

	result, _ = registry.Verify(ctx, "ord_1", "Shopper@example.com", challenge.Code)
	assert.Equal(t, VerifyOutcomeMismatch, result.Outcome, "destination match is case sensitive")

	result, _ = registry.Verify(ctx, "ord_1", "shopper@example.com", "0000")
	assert.Equal(t, VerifyOutcomeMismatch, result.Outcome)

	_, stillPending := registry.Peek("ord_1")
	assert.True(t, stillPending, "mismatch must not consume the challenge")

	result, _ = registry.Verify(ctx, "ord_1", "shopper@example.com", challenge.Code)
	require.True(t, result.Verified())
	assert.Equal(t, challenge.Code, result.Challenge.Code)

	result, _ = registry.Verify(ctx, "ord_1", "shopper@example.com", challenge.Code)
	assert.Equal(t, VerifyOutcomeNotFound, result.Outcome, "challenge is consumed on success")
}

func TestChallengeRegistryReissueInvalidatesPreviousCode(t *testing.T) {
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{})
	ctx := context.Background()

	var first, second Challenge
	for {
		var err error
		first, err = registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_1", Destination: "+1"})
		require.NoError(t, err)
		second, err = registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_1", Destination: "+1"})
		require.NoError(t, err)
		if first.Code != second.Code {
			break
		}
	}

	result, _ := registry.Verify(ctx, "ord_1", "+1", first.Code)
	assert.Equal(t, VerifyOutcomeMismatch, result.Outcome)
	result, _ = registry.Verify(ctx, "ord_1", "+1", second.Code)
	assert.True(t, result.Verified())
}

func TestChallengeRegistryLazyExpiry(t *testing.T) {
	metrics := newRecordingMetrics()
	registry, clock := newTestRegistry(t, ChallengeRegistryDeps{Metrics: metrics})
	ctx := context.Background()

	challenge, err := registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_1", Destination: "+1", TTL: 300 * time.Second})
	require.NoError(t, err)

	clock.Advance(300 * time.Second)
	_, pending := registry.Peek("ord_1")
	require.True(t, pending, "nothing expires without a verify call")

	clock.Advance(time.Second)
	status, ok := registry.Pending("ord_1")
	require.True(t, ok)
	assert.True(t, status.Expired)

	result, err := registry.Verify(ctx, "ord_1", "+1", challenge.Code)
	require.NoError(t, err)
	assert.Equal(t, VerifyOutcomeExpired, result.Outcome)

	_, pending = registry.Peek("ord_1")
	assert.False(t, pending, "expired challenge is deleted on verify")
	assert.Equal(t, 1, metrics.count("expired"))
}

func TestChallengeRegistryVerifyAtDeadlineSucceeds(t *testing.T) {
	registry, clock := newTestRegistry(t, ChallengeRegistryDeps{})
	challenge, err := registry.Issue(context.Background(), IssueChallengeCommand{OrderID: "ord_1", Destination: "+1", TTL: 90 * time.Second})
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	result, _ := registry.Verify(context.Background(), "ord_1", "+1", challenge.Code)
	assert.True(t, result.Verified())
}

func TestChallengeRegistrySkip(t *testing.T) {
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{})
	ctx := context.Background()
	payload := &CheckoutPayload{TotalAmount: 11998}

	_, err := registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_1", Destination: "+1", Payload: payload})
	require.NoError(t, err)

	skipped, ok := registry.Skip(ctx, "ord_1")
	require.True(t, ok)
	assert.Same(t, payload, skipped.Payload)

	_, ok = registry.Skip(ctx, "ord_1")
	assert.False(t, ok)
}

func TestChallengeRegistryRestoreKeepsNewerChallenge(t *testing.T) {
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{Random: zeroReader()})
	ctx := context.Background()
	payload := &CheckoutPayload{TotalAmount: 11998}

	_, err := registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_1", Destination: "+1", Payload: payload})
	require.NoError(t, err)
	consumed, ok := registry.Skip(ctx, "ord_1")
	require.True(t, ok)

	require.True(t, registry.Restore(ctx, consumed))
	result, err := registry.Verify(ctx, "ord_1", "+1", "000000")
	require.NoError(t, err)
	assert.Equal(t, VerifyOutcomeVerified, result.Outcome)
	assert.Same(t, payload, result.Challenge.Payload)

	newer, err := registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_1", Destination: "+2"})
	require.NoError(t, err)
	assert.False(t, registry.Restore(ctx, consumed))
	live, ok := registry.Peek("ord_1")
	require.True(t, ok)
	assert.Equal(t, newer.Destination, live.Destination)
}

func TestChallengeRegistryRevokeMatchesCode(t *testing.T) {
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{Random: zeroReader()})
	ctx := context.Background()

	issued, err := registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_1", Destination: "+1"})
	require.NoError(t, err)

	assert.False(t, registry.Revoke("ord_1", "999999"))
	_, ok := registry.Peek("ord_1")
	require.True(t, ok)

	assert.True(t, registry.Revoke("ord_1", issued.Code))
	_, ok = registry.Peek("ord_1")
	assert.False(t, ok)
	assert.False(t, registry.Revoke("ord_1", issued.Code))
}

func TestChallengeRegistryConcurrentVerifyFinalizesOnce(t *testing.T) {
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{})
	ctx := context.Background()

	challenge, err := registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_race", Destination: "+1"})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if i%2 == 0 {
				if result, _ := registry.Verify(ctx, "ord_race", "+1", challenge.Code); result.Verified() {
					wins.Add(1)
				}
				return
			}
			if _, ok := registry.Skip(ctx, "ord_race"); ok {
				wins.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestChallengeRegistryIndependentOrders(t *testing.T) {
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{})
	ctx := context.Background()

	codes := make(map[string]string)
	for _, id := range []string{"ord_a", "ord_b", "ord_c"} {
		challenge, err := registry.Issue(ctx, IssueChallengeCommand{OrderID: id, Destination: "+1"})
		require.NoError(t, err)
		codes[id] = challenge.Code
	}

	result, _ := registry.Verify(ctx, "ord_b", "+1", codes["ord_b"])
	require.True(t, result.Verified())

	for _, id := range []string{"ord_a", "ord_c"} {
		_, ok := registry.Peek(id)
		assert.True(t, ok, "%s should still be pending", id)
	}
}

func TestChallengeRegistrySweep(t *testing.T) {
	registry, clock := newTestRegistry(t, ChallengeRegistryDeps{})
	ctx := context.Background()

	_, err := registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_old", Destination: "+1", TTL: time.Minute})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = registry.Issue(ctx, IssueChallengeCommand{OrderID: "ord_new", Destination: "+1", TTL: time.Minute})
	require.NoError(t, err)

	assert.Equal(t, 1, registry.Sweep(clock.Now()))
	_, ok := registry.Peek("ord_old")
	assert.False(t, ok)
	_, ok = registry.Peek("ord_new")
	assert.True(t, ok)
}

func TestChallengeRegistryRunSweeperStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	registry, clock := newTestRegistry(t, ChallengeRegistryDeps{})
	_, err := registry.Issue(context.Background(), IssueChallengeCommand{OrderID: "ord_1", Destination: "+1"})
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- registry.RunSweeper(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		_, ok := registry.Peek("ord_1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestChallengeRegistryPendingMasksDestination(t *testing.T) {
	registry, _ := newTestRegistry(t, ChallengeRegistryDeps{})
	_, err := registry.Issue(context.Background(), IssueChallengeCommand{OrderID: "ord_1", Destination: "+15550100"})
	require.NoError(t, err)

	status, ok := registry.Pending("ord_1")
	require.True(t, ok)
	assert.Equal(t, "*******00", status.MaskedDestination)
	assert.False(t, status.Expired)
}
