package services

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu            sync.Mutex
	otps          []OTPNotification
	confirmations []Order
}

func (n *recordingNotifier) SendOTP(_ context.Context, notification OTPNotification) {
	n.mu.Lock()
	n.otps = append(n.otps, notification)
	n.mu.Unlock()
}

func (n *recordingNotifier) SendOrderConfirmation(_ context.Context, order Order) {
	n.mu.Lock()
	n.confirmations = append(n.confirmations, order)
	n.mu.Unlock()
}

func (n *recordingNotifier) Close(context.Context) error { return nil }

func (n *recordingNotifier) lastOTP() (OTPNotification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.otps) == 0 {
		return OTPNotification{}, false
	}
	return n.otps[len(n.otps)-1], true
}

func (n *recordingNotifier) confirmationCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.confirmations)
}

type recordingMetrics struct {
	mu        sync.Mutex
	otp       map[string]int
	conflicts int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{otp: make(map[string]int)}
}

func (m *recordingMetrics) RecordOTP(_ context.Context, outcome string, _ NotificationChannel) {
	m.mu.Lock()
	m.otp[outcome]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordStockConflict(context.Context, int) {
	m.mu.Lock()
	m.conflicts++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordOrder(context.Context, OrderStatus) {}

func (m *recordingMetrics) count(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.otp[outcome]
}

// zeroReader yields the all-zero code so formatting can be asserted.
func zeroReader() *bytes.Reader {
	return bytes.NewReader(make([]byte, 64))
}
