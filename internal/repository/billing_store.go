package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/subscription-engine/internal/database"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// BillingStore is the PostgreSQL storage behind the billing engine. Each
// method is one atomic unit of work.
type BillingStore struct {
	db            database.TxDB
	subscriptions *SubscriptionRepository
	expenses      *ExpenseRepository
	categories    *CategoryRepository
}

// NewBillingStore creates a BillingStore over a pool or a test transaction.
func NewBillingStore(db database.TxDB) *BillingStore {
	return &BillingStore{
		db:            db,
		subscriptions: NewSubscriptionRepository(db),
		expenses:      NewExpenseRepository(db),
		categories:    NewCategoryRepository(db),
	}
}

// CreateSubscription persists a new subscription, creating its owner row if needed.
func (s *BillingStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := NewUserRepository(tx).EnsureUser(ctx, sub.UserID); err != nil {
			return err
		}
		return NewSubscriptionRepository(tx).Create(ctx, sub)
	})
}

// GetSubscription loads a subscription by ID.
func (s *BillingStore) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return s.subscriptions.GetByID(ctx, id)
}

// ListDueSubscriptions loads subscriptions with next billing on or before asOf.
func (s *BillingStore) ListDueSubscriptions(ctx context.Context, asOf time.Time) ([]models.Subscription, error) {
	return s.subscriptions.ListDue(ctx, asOf)
}

// ExpenseExistsForPeriod reports whether the period was already materialized.
func (s *BillingStore) ExpenseExistsForPeriod(ctx context.Context, subscriptionID uuid.UUID, period time.Time) (bool, error) {
	return s.expenses.ExistsForPeriod(ctx, subscriptionID, period)
}

// MaterializeExpense inserts a generated expense and advances the
// subscription from one period to the next in a single transaction.
// A duplicate period yields ErrDuplicatePeriod; a schedule that is no longer
// at from yields ErrScheduleMoved. Either way nothing is committed.
func (s *BillingStore) MaterializeExpense(ctx context.Context, expense *models.Expense, from, to time.Time) error {
	if expense.SubscriptionID == nil {
		return fmt.Errorf("failed to materialize expense: missing subscription")
	}
	subscriptionID := *expense.SubscriptionID

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := NewExpenseRepository(tx).CreateForPeriod(ctx, expense); err != nil {
			return err
		}
		return NewSubscriptionRepository(tx).AdvanceNextBilling(ctx, subscriptionID, from, to)
	})
	if err != nil {
		expense.ID = 0
		return err
	}
	return nil
}

// AdvanceSchedule moves next billing without creating an expense.
func (s *BillingStore) AdvanceSchedule(ctx context.Context, subscriptionID uuid.UUID, from, to time.Time) error {
	return s.subscriptions.AdvanceNextBilling(ctx, subscriptionID, from, to)
}

// ListExpensesBySubscription returns the expenses generated for a subscription.
func (s *BillingStore) ListExpensesBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.Expense, error) {
	return s.expenses.ListBySubscription(ctx, subscriptionID)
}

// CategoryVisible reports whether a category exists for the owner.
func (s *BillingStore) CategoryVisible(ctx context.Context, userID int64, categoryID int) (bool, error) {
	return s.categories.ExistsForUser(ctx, userID, categoryID)
}

// ListSubscriptionsByUser returns every subscription the owner has.
func (s *BillingStore) ListSubscriptionsByUser(ctx context.Context, userID int64) ([]models.Subscription, error) {
	return s.subscriptions.ListByUser(ctx, userID)
}

// SetSubscriptionActive pauses or resumes a subscription.
func (s *BillingStore) SetSubscriptionActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.subscriptions.SetActive(ctx, id, active)
}

// SetSubscriptionAutoExpense turns expense generation on or off.
func (s *BillingStore) SetSubscriptionAutoExpense(ctx context.Context, id uuid.UUID, auto bool) error {
	return s.subscriptions.SetAutoExpense(ctx, id, auto)
}

// ExpenseTotal sums the confirmed expenses generated for a subscription.
func (s *BillingStore) ExpenseTotal(ctx context.Context, subscriptionID uuid.UUID) (decimal.Decimal, error) {
	return s.expenses.GetTotalBySubscription(ctx, subscriptionID)
}
