package monitoring

import (
	"context"
	"sync"
	"time"
)

// CheckFunc probes one dependency. It returns an error when the dependency
// is unusable.
type CheckFunc func(ctx context.Context) error

type healthCheck struct {
	name    string
	check   CheckFunc
	timeout time.Duration
}

// HealthStatus is the JSON body served on the health endpoint.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthChecker runs registered dependency probes on demand.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []healthCheck
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// AddCheck registers a named probe with its own timeout.
func (h *HealthChecker) AddCheck(name string, check CheckFunc, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, healthCheck{name: name, check: check, timeout: timeout})
}

// CheckAll runs every probe and aggregates the result. Any failing probe
// makes the whole status unhealthy.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]healthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, c := range checks {
		status.Checks[c.name] = h.runOne(ctx, c, &status)
	}
	return status
}

func (h *HealthChecker) runOne(ctx context.Context, c healthCheck, status *HealthStatus) string {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.check(checkCtx); err != nil {
		status.Status = "unhealthy"
		return err.Error()
	}
	return "healthy"
}
