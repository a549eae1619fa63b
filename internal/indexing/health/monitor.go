package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// CheckFunc pings a dependency.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	critical bool
	fn       CheckFunc
}

// Monitor aggregates health status from the service dependencies.
type Monitor struct {
	checks     []check
	integrity  storage.IntegrityCheckRepository
	timeout    time.Duration
	cacheFor   time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
	log        *slog.Logger
}

// NewMonitor creates a new health monitor. integrity may be nil.
func NewMonitor(integrity storage.IntegrityCheckRepository) *Monitor {
	return &Monitor{
		integrity: integrity,
		timeout:   3 * time.Second,
		cacheFor:  10 * time.Second,
		log:       slog.Default().With("component", "health"),
	}
}

// AddCheck registers a dependency. A failing critical check makes the whole
// system critical, any other failure only degrades it.
func (m *Monitor) AddCheck(name string, critical bool, fn CheckFunc) {
	m.checks = append(m.checks, check{name: name, critical: critical, fn: fn})
}

// CheckHealth pings every dependency, at most once per cache period.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheFor {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(m.checks)),
		CheckedAt:    time.Now(),
	}

	for _, c := range m.checks {
		h := ComponentHealth{Name: c.name, Status: StatusHealthy}
		pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		err := c.fn(pingCtx)
		cancel()
		h.Latency = time.Since(start)
		if err != nil {
			h.Error = err.Error()
			h.Status = StatusDegraded
			if c.critical {
				h.Status = StatusCritical
			}
			m.log.Warn("Health check failed", "check", c.name, "error", err)
		}
		report.Components[c.name] = h
		report.SystemStatus = worst(report.SystemStatus, h.Status)
	}

	if m.integrity != nil {
		checks, err := m.integrity.List(ctx)
		if err != nil {
			m.log.Warn("Failed to list integrity checks", "error", err)
		}
		for _, ic := range checks {
			report.Workspaces = append(report.Workspaces, WorkspaceHealth{
				WorkspaceID: ic.WorkspaceID,
				Status:      string(ic.Status),
				BlockNumber: ic.BlockNumber,
			})
			if ic.Status == domain.IntegrityRecovering {
				report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
			}
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
