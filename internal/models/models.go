// Package models defines the domain entities for the subscription billing engine.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is the currency used when a subscription names none.
const DefaultCurrency = "SGD"

// Category represents an expense category. A nil UserID marks a shared
// category visible to every owner.
type Category struct {
	ID        int
	UserID    *int64
	Name      string
	CreatedAt time.Time
}

// VisibleTo reports whether the category can be used by the given owner.
func (c Category) VisibleTo(userID int64) bool {
	return c.UserID == nil || *c.UserID == userID
}

// ExpenseStatus represents the status of an expense.
const (
	ExpenseStatusDraft     = "draft"
	ExpenseStatusConfirmed = "confirmed"
)

// Expense represents a single expense entry. Expenses generated by the
// billing engine carry SubscriptionID and GeneratedForPeriod; manually
// entered ones leave both nil.
type Expense struct {
	ID                 int
	UserID             int64
	Amount             decimal.Decimal
	Currency           string
	Description        string
	Merchant           string
	CategoryID         *int
	Category           *Category
	Status             string
	OccurredAt         time.Time
	SubscriptionID     *uuid.UUID
	GeneratedForPeriod *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsGenerated reports whether the expense was materialized from a subscription.
func (e Expense) IsGenerated() bool {
	return e.SubscriptionID != nil && e.GeneratedForPeriod != nil
}
