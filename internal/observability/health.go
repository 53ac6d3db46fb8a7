package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// readinessTimeout bounds a full readiness pass. Checks run
// concurrently, so one slow dependency cannot starve the rest.
const readinessTimeout = 3 * time.Second

// HealthChecker aggregates readiness from the subsystems a running
// deployment depends on: the storage ping, sweep recency, ingestion
// queue headroom. Checks are registered once during startup wiring and
// probed concurrently on every readiness request. Liveness stays
// unconditional; a degraded dependency must not get the process killed.
type HealthChecker struct {
	checks []HealthCheck
	logger *slog.Logger
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single dependency check.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
	Took    string `json:"took"`              // Probe duration.
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named readiness check. Not safe to call once
// the checker is serving; register everything before gateway start.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// CheckHealth returns liveness. Always "ok" while the process runs.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady probes every registered check concurrently and returns
// the aggregate: "ok" only when all pass, "degraded" otherwise.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if len(h.checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	type outcome struct {
		err  error
		took time.Duration
	}
	outcomes := make([]outcome, len(h.checks))

	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func(i int, check func(ctx context.Context) error) {
			defer wg.Done()
			start := time.Now()
			outcomes[i] = outcome{err: check(checkCtx), took: time.Since(start)}
		}(i, c.Check)
	}
	wg.Wait()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(h.checks)),
	}
	for i, c := range h.checks {
		res := CheckResult{Status: "ok", Took: outcomes[i].took.String()}
		if err := outcomes[i].err; err != nil {
			status.Status = "degraded"
			res.Status = "fail"
			res.Message = err.Error()
			if h.logger != nil {
				h.logger.Warn("readiness check failed",
					slog.String("check", c.Name),
					slog.String("error", err.Error()),
				)
			}
		}
		status.Checks[c.Name] = res
	}
	return status
}

// StalenessCheck fails once last() is older than maxAge. A zero time
// means the activity has not completed yet and passes, so readiness is
// not held back while the first sweep is still pending.
func StalenessCheck(last func() time.Time, maxAge time.Duration) func(ctx context.Context) error {
	return func(context.Context) error {
		t := last()
		if t.IsZero() {
			return nil
		}
		if age := time.Since(t); age > maxAge {
			return fmt.Errorf("last completed %s ago, limit %s", age.Round(time.Second), maxAge)
		}
		return nil
	}
}

// SaturationCheck fails when load() reaches limit. Load is a 0–1
// fraction; the ingestion pipeline reports its fullest worker queue.
func SaturationCheck(load func() float64, limit float64) func(ctx context.Context) error {
	return func(context.Context) error {
		if l := load(); l >= limit {
			return fmt.Errorf("saturation %.2f at or above limit %.2f", l, limit)
		}
		return nil
	}
}
