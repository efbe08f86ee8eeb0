package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	results map[string]CheckResult
	logger  *zap.SugaredLogger
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

// CheckResult is the outcome of the most recent run of one check.
type CheckResult struct {
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker(logger *zap.SugaredLogger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HealthChecker{
		results: make(map[string]CheckResult),
		logger:  logger,
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

// CheckAll runs every check now and records the results.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}
	for _, check := range checks {
		res := h.run(ctx, check)
		status.Checks[check.Name] = res.Message
		if !res.Healthy {
			status.Status = statusUnhealthy
		}
	}
	return status
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == statusHealthy
}

// Results returns the last recorded outcome of each check, whether it came
// from CheckAll or a background run.
func (h *HealthChecker) Results() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]CheckResult, len(h.results))
	for name, res := range h.results {
		out[name] = res
	}
	return out
}

func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, check := range h.checks {
		if check.Interval > 0 {
			go h.runCheckPeriodically(ctx, check)
		}
	}
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.run(ctx, check)
		}
	}
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) CheckResult {
	if check.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, check.Timeout)
		defer cancel()
	}

	healthy, err := check.Check(ctx)
	res := CheckResult{Healthy: healthy && err == nil, Message: statusHealthy, CheckedAt: time.Now()}
	switch {
	case err != nil:
		res.Message = err.Error()
	case !healthy:
		res.Message = "check failed"
	}

	h.mu.Lock()
	prev, seen := h.results[check.Name]
	h.results[check.Name] = res
	h.mu.Unlock()

	if seen && prev.Healthy != res.Healthy {
		if res.Healthy {
			h.logger.Infow("Health check recovered", "check", check.Name)
		} else {
			h.logger.Warnw("Health check failing", "check", check.Name, "reason", res.Message)
		}
	}
	return res
}
