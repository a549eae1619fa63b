package domain

import "time"

// Explorer is the public deployment of a workspace. Slug names its sync process.
type Explorer struct {
	ID          int64
	WorkspaceID int64
	Slug        string
	ShouldSync  bool
	IsDemo      bool
	CreatedAt   time.Time

	Workspace    *Workspace
	Subscription *Subscription
}

// CanSync reports whether billing allows the explorer to keep syncing.
func (e *Explorer) CanSync() bool {
	return e.Subscription.IsActive() && !e.Subscription.QuotaReached()
}

// ExpiresAt returns when a plan with an expiry ends, or false if it never does.
func (e *Explorer) ExpiresAt() (time.Time, bool) {
	if e.Subscription == nil || e.Subscription.Plan == nil {
		return time.Time{}, false
	}
	days := e.Subscription.Plan.Capabilities.ExpiresAfterDays
	if days <= 0 {
		return time.Time{}, false
	}
	return e.CreatedAt.AddDate(0, 0, days), true
}

// SubscriptionStatus mirrors the billing provider lifecycle.
type SubscriptionStatus string

const (
	SubscriptionActive             SubscriptionStatus = "active"
	SubscriptionTrial              SubscriptionStatus = "trial"
	SubscriptionTrialWithCard      SubscriptionStatus = "trial_with_card"
	SubscriptionPendingCancelation SubscriptionStatus = "pending_cancelation"
	SubscriptionCanceled           SubscriptionStatus = "canceled"
)

// Subscription is an explorer's billing subscription.
type Subscription struct {
	ID               int64
	ExplorerID       int64
	StripeID         string
	Status           SubscriptionStatus
	TransactionQuota int64 // 0 means unlimited
	TransactionCount int64

	Plan *Plan
}

// IsActive reports whether the subscription currently grants service.
func (s *Subscription) IsActive() bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case SubscriptionActive, SubscriptionTrial, SubscriptionTrialWithCard, SubscriptionPendingCancelation:
		return true
	}
	return false
}

// QuotaReached reports whether the transaction quota for the cycle is used up.
func (s *Subscription) QuotaReached() bool {
	if s == nil || s.TransactionQuota <= 0 {
		return false
	}
	if s.Plan != nil && s.Plan.Capabilities.SkipBilling {
		return false
	}
	return s.TransactionCount >= s.TransactionQuota
}

// Plan is the product a subscription is on.
type Plan struct {
	ID           int64
	Slug         string
	Name         string
	Capabilities PlanCapabilities
}

// BillingMetered marks plans reported to the billing provider per transaction.
const BillingMetered = "metered"

// PlanCapabilities is stored as JSON on the plan row.
type PlanCapabilities struct {
	Billing          string `json:"billing,omitempty"`
	DataRetention    int    `json:"dataRetention,omitempty"` // days, 0 = keep forever
	ExpiresAfterDays int    `json:"expiresAfterDays,omitempty"`
	SkipBilling      bool   `json:"skipBilling,omitempty"`
}

// IsMetered reports whether usage is reported per transaction.
func (p *Plan) IsMetered() bool {
	return p != nil && p.Capabilities.Billing == BillingMetered
}
