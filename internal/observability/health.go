package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Pinger is a dependency that can verify its own connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	// Required.
	WorkflowsLoaded func() bool
	APISpecLoaded   func() bool

	// Optional, run only if non-nil.
	DocumentStore    Pinger
	IdempotencyStore Pinger
}

const checkTimeout = 2 * time.Second

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns an HTTP handler for the readiness endpoint. All checks
// run concurrently; any failure yields 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]CheckResult)
		var mu sync.Mutex
		var wg sync.WaitGroup

		run := func(name string, check func() CheckResult) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result := check()
				mu.Lock()
				results[name] = result
				mu.Unlock()
			}()
		}

		run("workflows", func() CheckResult {
			return flagCheck(checks.WorkflowsLoaded, "no workflows registered")
		})
		run("api_spec", func() CheckResult {
			return flagCheck(checks.APISpecLoaded, "API description not loaded")
		})
		if checks.DocumentStore != nil {
			run("document_store", func() CheckResult {
				return runCheck(r.Context(), checks.DocumentStore)
			})
		}
		if checks.IdempotencyStore != nil {
			run("idempotency_store", func() CheckResult {
				return runCheck(r.Context(), checks.IdempotencyStore)
			})
		}

		wg.Wait()

		status := "ready"
		httpStatus := http.StatusOK
		for _, result := range results {
			if result.Status != "ok" {
				status = "not_ready"
				httpStatus = http.StatusServiceUnavailable
				break
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(httpStatus)
		json.NewEncoder(w).Encode(ReadinessResponse{
			Status: status,
			Checks: results,
		})
	}
}

// flagCheck reports ok when loaded is non-nil and returns true.
func flagCheck(loaded func() bool, failure string) CheckResult {
	start := time.Now()
	if loaded != nil && loaded() {
		return CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	}
	return CheckResult{
		Status:    "error",
		LatencyMs: time.Since(start).Milliseconds(),
		Error:     failure,
	}
}

// runCheck pings a dependency with a per-check timeout.
func runCheck(parent context.Context, p Pinger) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return CheckResult{
			Status:    "error",
			LatencyMs: latency,
			Error:     err.Error(),
		}
	}
	return CheckResult{
		Status:    "ok",
		LatencyMs: latency,
	}
}
