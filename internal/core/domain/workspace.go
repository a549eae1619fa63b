package domain

import "time"

// Workspace is one tenant's chain connection and synced ledger.
type Workspace struct {
	ID                             int64
	Name                           string
	RPCServer                      string
	Public                         bool
	IntegrityCheckDisabled         bool
	IntegrityCheckStartBlockNumber *int64
	PendingDeletion                bool
	CreatedAt                      time.Time

	Explorer       *Explorer
	IntegrityCheck *IntegrityCheck
	RPCHealthCheck *RPCHealthCheck
}

// CanSync reports whether the tenant may keep syncing. Private workspaces
// without an explorer are never billed.
func (w *Workspace) CanSync() bool {
	if w.Explorer == nil {
		return true
	}
	return w.Explorer.CanSync()
}

// IntegrityStatus is the state recorded by the integrity checker.
type IntegrityStatus string

const (
	IntegrityHealthy    IntegrityStatus = "healthy"
	IntegrityRecovering IntegrityStatus = "recovering"
)

// IntegrityCheck points at the latest block verified to be contiguous from the start block.
type IntegrityCheck struct {
	WorkspaceID int64
	BlockID     *int64
	BlockNumber *int64
	Status      IntegrityStatus
	UpdatedAt   time.Time
}

// RPCHealthCheck tracks reachability of a workspace's RPC endpoint.
type RPCHealthCheck struct {
	WorkspaceID    int64
	IsReachable    bool
	FailedAttempts int
	UpdatedAt      time.Time
}

// RetentionCutoff returns the time at or before which blocks fall outside
// the plan's data retention. ok is false when the plan keeps data forever.
func (w *Workspace) RetentionCutoff(now time.Time) (cutoff time.Time, ok bool) {
	if w.Explorer == nil || w.Explorer.Subscription == nil || w.Explorer.Subscription.Plan == nil {
		return time.Time{}, false
	}
	days := w.Explorer.Subscription.Plan.Capabilities.DataRetention
	if days <= 0 {
		return time.Time{}, false
	}
	return now.AddDate(0, 0, -days), true
}
