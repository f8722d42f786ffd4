package health

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how often dependencies are probed.
const DefaultCacheTTL = 10 * time.Second

// Check probes one dependency. A failing critical check makes the whole
// system critical; a failing non-critical check only degrades it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	checks     []Check
	cacheTTL   time.Duration
	now        func() time.Time
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. cacheTTL <= 0 disables caching.
func NewMonitor(cacheTTL time.Duration, checks ...Check) *Monitor {
	return &Monitor{
		checks:   checks,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// CheckHealth runs every check, reusing the previous report while it is
// fresher than the cache TTL.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && m.cacheTTL > 0 && m.now().Sub(m.lastCheck) < m.cacheTTL {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(m.checks)),
	}

	for _, check := range m.checks {
		component := ComponentHealth{Name: check.Name, Status: StatusHealthy}
		if err := check.Probe(ctx); err != nil {
			component.Error = err.Error()
			component.Status = StatusDegraded
			if check.Critical {
				component.Status = StatusCritical
			}
		}
		report.Components[check.Name] = component

		// Worst case wins
		switch {
		case component.Status == StatusCritical:
			report.SystemStatus = StatusCritical
		case component.Status == StatusDegraded && report.SystemStatus == StatusHealthy:
			report.SystemStatus = StatusDegraded
		}
	}

	m.lastCheck = m.now()
	m.lastReport = &report
	return report
}
