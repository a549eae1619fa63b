// Package health provides system health monitoring, status reporting and the
// operator endpoints that trigger reconciliation jobs by hand.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth is the result of pinging one dependency.
type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  SystemStatus  `json:"status"`
	Latency time.Duration `json:"latency_ns"`
	Error   string        `json:"error,omitempty"`
}

// WorkspaceHealth mirrors a workspace's integrity check.
type WorkspaceHealth struct {
	WorkspaceID int64  `json:"workspace_id"`
	Status      string `json:"status"`
	BlockNumber *int64 `json:"block_number,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
	Workspaces   []WorkspaceHealth          `json:"workspaces,omitempty"`
	CheckedAt    time.Time                  `json:"checked_at"`
}
