package handlers

import (
	"context"
	"net/http"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/repositories"
)

const defaultReadinessTimeout = 3 * time.Second

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	readiness repositories.HealthRepository
	build     BuildInfo
	now       func() time.Time
	timeout   time.Duration
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthReadiness sets the dependency probes evaluated by /readyz.
func WithHealthReadiness(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.readiness = repo
	}
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.now = clock
		}
	}
}

// NewHealthHandlers constructs probe handlers. Without a readiness repository /readyz always reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		now:     time.Now,
		timeout: defaultReadinessTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type dependencyResponse struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

type readinessResponse struct {
	Status    string                        `json:"status"`
	Checks    map[string]dependencyResponse `json:"checks"`
	Timestamp string                        `json:"timestamp"`
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now().UTC()
	httpx.WriteJSON(w, http.StatusOK, healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies. Degraded dependencies still accept traffic; errored ones return 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	if h.readiness == nil {
		httpx.WriteJSON(w, http.StatusOK, readinessResponse{
			Status:    domain.HealthStatusOK,
			Checks:    map[string]dependencyResponse{},
			Timestamp: now.Format(time.RFC3339),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	report, err := h.readiness.Collect(ctx)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("readiness_failed", err.Error(), http.StatusServiceUnavailable))
		return
	}

	checks := make(map[string]dependencyResponse, len(report.Checks))
	for name, check := range report.Checks {
		checks[name] = dependencyResponse{
			Status:    check.Status,
			Detail:    check.Detail,
			LatencyMS: check.Latency.Milliseconds(),
		}
	}
	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = now
	}
	httpx.WriteJSON(w, status, readinessResponse{
		Status:    report.Status,
		Checks:    checks,
		Timestamp: generated.UTC().Format(time.RFC3339),
	})
}
