package observability

import (
	"context"
	"sync"
	"time"
)

// HealthStatus grades a component. Degraded components keep the service
// answering; unhealthy ones fail the health endpoint.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult is one component's answer.
type HealthCheckResult struct {
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthChecker probes one component.
type HealthChecker func(ctx context.Context) HealthCheckResult

// HealthRegistry runs registered checkers in parallel on demand. It holds
// no cached state; every call probes live.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checkers: make(map[string]HealthChecker)}
}

// Register adds a checker under the component name. Re-registering a name
// replaces it.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Check probes every component concurrently and returns the results keyed
// by name.
func (r *HealthRegistry) Check(ctx context.Context) map[string]HealthCheckResult {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	probes := make([]HealthChecker, 0, len(r.checkers))
	for name, checker := range r.checkers {
		names = append(names, name)
		probes = append(probes, checker)
	}
	r.mu.RUnlock()

	results := make([]HealthCheckResult, len(probes))
	var wg sync.WaitGroup
	for i, probe := range probes {
		wg.Add(1)
		go func(i int, probe HealthChecker) {
			defer wg.Done()
			start := time.Now()
			res := probe(ctx)
			res.Duration = time.Since(start)
			res.Timestamp = time.Now()
			results[i] = res
		}(i, probe)
	}
	wg.Wait()

	byName := make(map[string]HealthCheckResult, len(names))
	for i, name := range names {
		byName[name] = results[i]
	}
	return byName
}

// OverallHealth is the aggregate the health endpoint serves.
type OverallHealth struct {
	Status    HealthStatus                 `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Checks    map[string]HealthCheckResult `json:"checks"`
}

// GetOverallHealth probes everything and grades the whole: the aggregate
// takes the worst individual status.
func (r *HealthRegistry) GetOverallHealth(ctx context.Context) OverallHealth {
	checks := r.Check(ctx)

	status := HealthStatusHealthy
	for _, res := range checks {
		switch res.Status {
		case HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if status == HealthStatusHealthy {
				status = HealthStatusDegraded
			}
		}
	}

	return OverallHealth{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// DatabaseHealthChecker grades a ping failure unhealthy: nothing works
// without Postgres.
func DatabaseHealthChecker(ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		if err := ping(ctx); err != nil {
			return HealthCheckResult{
				Status:  HealthStatusUnhealthy,
				Message: "ping failed: " + err.Error(),
			}
		}
		return HealthCheckResult{Status: HealthStatusHealthy, Message: "ok"}
	}
}

// RedisHealthChecker grades a ping failure degraded: the schedule cache is
// optional and reads fall through to the calendar backend.
func RedisHealthChecker(ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		if err := ping(ctx); err != nil {
			return HealthCheckResult{
				Status:  HealthStatusDegraded,
				Message: "ping failed: " + err.Error(),
			}
		}
		return HealthCheckResult{Status: HealthStatusHealthy, Message: "ok"}
	}
}

// RabbitMQHealthChecker grades a broker failure degraded: requests keep
// landing in the outbox and publish once the broker returns.
func RabbitMQHealthChecker(probe func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		if err := probe(ctx); err != nil {
			return HealthCheckResult{
				Status:  HealthStatusDegraded,
				Message: "connect failed: " + err.Error(),
			}
		}
		return HealthCheckResult{Status: HealthStatusHealthy, Message: "ok"}
	}
}
