package handlers

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 5 * time.Second

// DependencyCheck probes one dependency of the worker.
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthChecker handles health check requests
type HealthChecker struct {
	checks []DependencyCheck
}

// NewHealthChecker creates a health checker probing checks in extended mode.
func NewHealthChecker(checks ...DependencyCheck) *HealthChecker {
	return &HealthChecker{checks: checks}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles /healthz. ?mode=extended probes every dependency and
// answers 503 when any of them fails.
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if r.URL.Query().Get("mode") == "extended" {
		response.Checks = make(map[string]string, len(h.checks))
		for _, c := range h.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := c.Check(ctx)
			cancel()
			if err != nil {
				response.Status = "unhealthy"
				response.Checks[c.Name] = "unhealthy: " + err.Error()
				continue
			}
			response.Checks[c.Name] = "healthy"
		}
		if response.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
	}

	respondJSON(w, status, response)
}
