package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

type stubHealthRepository struct {
	report domain.ReadinessReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.ReadinessReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	handlers.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.0.0" || body["commitSha"] != "abc123" || body["environment"] != "prod" {
		t.Fatalf("unexpected build info %#v", body)
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
	if body["timestamp"] != now.Format(time.RFC3339) {
		t.Fatalf("unexpected timestamp %v", body["timestamp"])
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		repo       *stubHealthRepository
		wantStatus int
		wantBody   string
	}{
		{
			name: "ok",
			repo: &stubHealthRepository{report: domain.ReadinessReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.DependencyHealth{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
				},
			}},
			wantStatus: http.StatusOK,
			wantBody:   domain.HealthStatusOK,
		},
		{
			name: "degraded still serves",
			repo: &stubHealthRepository{report: domain.ReadinessReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.DependencyHealth{
					"pubsub": {Status: domain.HealthStatusDegraded, Detail: "slow"},
				},
			}},
			wantStatus: http.StatusOK,
			wantBody:   domain.HealthStatusDegraded,
		},
		{
			name: "error",
			repo: &stubHealthRepository{report: domain.ReadinessReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.DependencyHealth{
					"firestore": {Status: domain.HealthStatusError, Detail: "unreachable"},
				},
			}},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   domain.HealthStatusError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(
				WithHealthReadiness(tc.repo),
				WithHealthClock(func() time.Time { return now }),
			)
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			rr := httptest.NewRecorder()

			handlers.Readyz(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["status"] != tc.wantBody {
				t.Fatalf("expected status %q, got %v", tc.wantBody, body["status"])
			}
			checks, _ := body["checks"].(map[string]any)
			if len(checks) != 1 {
				t.Fatalf("expected one check, got %#v", body["checks"])
			}
		})
	}
}

func TestHealthHandlersReadyzLatency(t *testing.T) {
	handlers := NewHealthHandlers(WithHealthReadiness(&stubHealthRepository{report: domain.ReadinessReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.DependencyHealth{
			"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
		},
	}}))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	checks, _ := decodeBody(t, rr)["checks"].(map[string]any)
	firestore, _ := checks["firestore"].(map[string]any)
	if firestore["latencyMs"] != float64(12) {
		t.Fatalf("expected latency 12ms, got %#v", firestore)
	}
}

func TestHealthHandlersReadyzCollectFailure(t *testing.T) {
	handlers := NewHealthHandlers(WithHealthReadiness(&stubHealthRepository{err: errors.New("boom")}))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "readiness_failed" {
		t.Fatalf("expected readiness_failed, got %#v", body["error"])
	}
}

func TestHealthHandlersReadyzWithoutRepository(t *testing.T) {
	handlers := NewHealthHandlers()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["status"] != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %#v", body["status"])
	}
}
