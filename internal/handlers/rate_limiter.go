package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// otpRequestLimiter caps request-otp calls per order and client address over a sliding window. Each key
// keeps the times of its accepted requests, so a burst at the end of one window cannot be followed by a
// full burst at the start of the next.
type otpRequestLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	accepted  map[otpLimitKey][]time.Time
	lastSweep time.Time
}

type otpLimitKey struct {
	orderID string
	client  string
}

func newOTPRequestLimiter(limit int, window time.Duration, clock func() time.Time) *otpRequestLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &otpRequestLimiter{
		limit:    limit,
		window:   window,
		clock:    clock,
		accepted: make(map[otpLimitKey][]time.Time),
	}
}

// Allow records a request for orderID from client. When the key is over its limit it reports how long
// until the oldest accepted request leaves the window.
func (l *otpRequestLimiter) Allow(orderID, client string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key := otpLimitKey{orderID: strings.TrimSpace(orderID), client: client}
	now := l.clock()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now, cutoff)

	recent := trimBefore(l.accepted[key], cutoff)
	if len(recent) >= l.limit {
		l.accepted[key] = recent
		return false, recent[0].Add(l.window).Sub(now)
	}
	l.accepted[key] = append(recent, now)
	return true, 0
}

// sweepLocked drops idle keys at most once per window.
func (l *otpRequestLimiter) sweepLocked(now, cutoff time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, times := range l.accepted {
		if len(trimBefore(times, cutoff)) == 0 {
			delete(l.accepted, key)
		}
	}
}

// trimBefore drops entries at or before cutoff. times is ordered oldest first.
func trimBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

// clientAddress returns the host part of the request's remote address. The router's RealIP middleware
// has already replaced it with the forwarded address when one is present.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
