package domain

import "time"

const (
	// HealthStatusOK indicates all dependencies answered.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates a dependency returned an error but the service can still take traffic.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a dependency timed out or the probe was cancelled.
	HealthStatusError = "error"
)

// DependencyHealth is the outcome of a single readiness probe.
type DependencyHealth struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// ReadinessReport aggregates dependency probes for the readiness endpoint.
type ReadinessReport struct {
	Status      string
	Checks      map[string]DependencyHealth
	GeneratedAt time.Time
}
