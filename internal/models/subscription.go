package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillingCycle is the recurrence cadence of a subscription.
type BillingCycle string

// Supported billing cycles.
const (
	CycleDaily      BillingCycle = "daily"
	CycleWeekly     BillingCycle = "weekly"
	CycleMonthly    BillingCycle = "monthly"
	CycleQuarterly  BillingCycle = "quarterly"
	CycleBiannually BillingCycle = "biannually"
	CycleYearly     BillingCycle = "yearly"
)

// BillingCycles lists every recognized cycle, shortest first.
var BillingCycles = []BillingCycle{
	CycleDaily,
	CycleWeekly,
	CycleMonthly,
	CycleQuarterly,
	CycleBiannually,
	CycleYearly,
}

// Valid reports whether c is a recognized cycle.
func (c BillingCycle) Valid() bool {
	switch c {
	case CycleDaily, CycleWeekly, CycleMonthly, CycleQuarterly, CycleBiannually, CycleYearly:
		return true
	}
	return false
}

// ParseBillingCycle parses a cycle name case-insensitively.
// "biannual" and "annually" are accepted as aliases.
func ParseBillingCycle(s string) (BillingCycle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return CycleDaily, nil
	case "weekly":
		return CycleWeekly, nil
	case "monthly":
		return CycleMonthly, nil
	case "quarterly":
		return CycleQuarterly, nil
	case "biannually", "biannual":
		return CycleBiannually, nil
	case "yearly", "annually":
		return CycleYearly, nil
	}
	return "", fmt.Errorf("unrecognized billing cycle %q", s)
}

// MaxSubscriptionNameLength is the maximum allowed length for subscription names.
const MaxSubscriptionNameLength = 100

// Subscription is a user-declared recurring obligation. Dates are calendar
// dates stored at UTC midnight.
type Subscription struct {
	ID          uuid.UUID
	UserID      int64
	Name        string
	Amount      decimal.Decimal
	Currency    string
	Cycle       BillingCycle
	StartDate   time.Time
	NextBilling time.Time
	EndDate     *time.Time
	IsActive    bool
	AutoExpense bool
	CategoryID  *int
	Note        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidationError lists every problem found in a subscription.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid subscription:\n  - " + strings.Join(e.Problems, "\n  - ")
}

// Validate checks creation-time rules. It never touches storage.
func (s *Subscription) Validate() error {
	var problems []string

	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	} else if len(s.Name) > MaxSubscriptionNameLength {
		problems = append(problems, fmt.Sprintf("name must be at most %d characters", MaxSubscriptionNameLength))
	}

	if !s.Amount.IsPositive() {
		problems = append(problems, "amount must be positive")
	} else if !s.Amount.Equal(s.Amount.Round(2)) {
		problems = append(problems, "amount must have at most 2 decimal places")
	}

	if !isCurrencyCode(s.Currency) {
		problems = append(problems, "currency must be a 3-letter code")
	}

	if !s.Cycle.Valid() {
		problems = append(problems, fmt.Sprintf("unrecognized billing cycle %q", s.Cycle))
	}

	if s.StartDate.IsZero() {
		problems = append(problems, "start date is required")
	}
	if s.NextBilling.IsZero() {
		problems = append(problems, "next billing date is required")
	}
	if !s.StartDate.IsZero() && !s.NextBilling.IsZero() && s.NextBilling.Before(s.StartDate) {
		problems = append(problems, "next billing date must not be before start date")
	}
	if s.EndDate != nil && !s.StartDate.IsZero() && s.EndDate.Before(s.StartDate) {
		problems = append(problems, "end date must not be before start date")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
