package models

import (
	"time"

	"github.com/google/uuid"
)

// RunFailure records a subscription whose processing was aborted by a
// storage error. Its schedule was left untouched.
type RunFailure struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Period         time.Time `json:"period"`
	Error          string    `json:"error"`
}

// LifecycleSkip records a subscription the lifecycle guard refused to bill.
type LifecycleSkip struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Reason         string    `json:"reason"`
}

// RunReport summarizes a single catch-up run. BacklogPeriods estimates how
// many periods the subscriptions in BacklogRemaining still owe.
type RunReport struct {
	ID                     int64           `json:"id,omitempty"`
	AsOf                   time.Time       `json:"as_of"`
	StartedAt              time.Time       `json:"started_at"`
	FinishedAt             time.Time       `json:"finished_at"`
	SubscriptionsProcessed int             `json:"subscriptions_processed"`
	ExpensesCreated        int             `json:"expenses_created"`
	SchedulesAdvanced      int             `json:"schedules_advanced"`
	SchedulesRepaired      int             `json:"schedules_repaired"`
	DuplicatesAbsorbed     int             `json:"duplicates_absorbed"`
	BacklogRemaining       []uuid.UUID     `json:"backlog_remaining"`
	BacklogPeriods         int             `json:"backlog_periods"`
	SkippedLifecycle       []LifecycleSkip `json:"skipped_lifecycle"`
	CategoryDegraded       []uuid.UUID     `json:"category_degraded"`
	Failures               []RunFailure    `json:"failures"`
	Cancelled              bool            `json:"cancelled"`
}

// Duration returns how long the run took.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// HasBacklog reports whether any subscription hit the per-run period cap.
func (r *RunReport) HasBacklog() bool {
	return len(r.BacklogRemaining) > 0
}
