package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/subscription-engine/internal/database"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// ExpenseRepository handles expense database operations.
type ExpenseRepository struct {
	db database.PGXDB
}

// NewExpenseRepository creates a new ExpenseRepository.
func NewExpenseRepository(db database.PGXDB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

const expenseColumns = `e.id, e.user_id, e.amount, e.currency, e.description, e.merchant, e.category_id,
	e.status, e.occurred_at, e.subscription_id, e.generated_for_period, e.created_at, e.updated_at`

// CreateForPeriod inserts a subscription-generated expense. It returns
// ErrDuplicatePeriod, without raising a database error, when the
// (subscription, period) pair is already taken.
func (r *ExpenseRepository) CreateForPeriod(ctx context.Context, expense *models.Expense) error {
	if !expense.IsGenerated() {
		return fmt.Errorf("failed to create expense: subscription and period are required")
	}
	if expense.Status == "" {
		expense.Status = models.ExpenseStatusConfirmed
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO expenses (user_id, amount, currency, description, merchant, category_id, status, occurred_at,
			subscription_id, generated_for_period)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT ON CONSTRAINT `+database.UniqueSubscriptionPeriodConstraint+` DO NOTHING
		RETURNING id, created_at, updated_at
	`, expense.UserID, expense.Amount, expense.Currency, expense.Description, expense.Merchant,
		expense.CategoryID, expense.Status, expense.OccurredAt, expense.SubscriptionID, expense.GeneratedForPeriod,
	).Scan(&expense.ID, &expense.CreatedAt, &expense.UpdatedAt)
	if err != nil {
		if isNoRows(err) || isUniqueViolation(err, database.UniqueSubscriptionPeriodConstraint) {
			return ErrDuplicatePeriod
		}
		return fmt.Errorf("failed to create expense for period: %w", err)
	}
	return nil
}

// ExistsForPeriod reports whether an expense was already generated for the period.
func (r *ExpenseRepository) ExistsForPeriod(ctx context.Context, subscriptionID uuid.UUID, period time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM expenses
			WHERE subscription_id = $1 AND generated_for_period = $2
		)
	`, subscriptionID, period).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check expense for period: %w", err)
	}
	return exists, nil
}

// ListBySubscription retrieves the expenses generated for a subscription,
// oldest period first.
func (r *ExpenseRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.Expense, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+expenseColumns+`, c.id, c.user_id, c.name, c.created_at
		FROM expenses e
		LEFT JOIN categories c ON e.category_id = c.id
		WHERE e.subscription_id = $1
		ORDER BY e.generated_for_period, e.id
	`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses by subscription: %w", err)
	}
	defer rows.Close()

	return scanExpenses(rows)
}

// GetTotalBySubscription sums the generated expenses of a subscription.
func (r *ExpenseRepository) GetTotalBySubscription(ctx context.Context, subscriptionID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM expenses
		WHERE subscription_id = $1 AND status = 'confirmed'
	`, subscriptionID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get total by subscription: %w", err)
	}
	return total, nil
}

// scanExpenses is a helper to scan expense rows with category joins.
func scanExpenses(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
},
) ([]models.Expense, error) {
	var expenses []models.Expense
	for rows.Next() {
		var exp models.Expense
		var catID *int
		var catUserID *int64
		var catName *string
		var catCreatedAt *time.Time

		if err := rows.Scan(
			&exp.ID, &exp.UserID, &exp.Amount, &exp.Currency, &exp.Description, &exp.Merchant, &exp.CategoryID,
			&exp.Status, &exp.OccurredAt, &exp.SubscriptionID, &exp.GeneratedForPeriod, &exp.CreatedAt, &exp.UpdatedAt,
			&catID, &catUserID, &catName, &catCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}

		if catID != nil {
			exp.Category = &models.Category{
				ID:        *catID,
				UserID:    catUserID,
				Name:      *catName,
				CreatedAt: *catCreatedAt,
			}
		}
		expenses = append(expenses, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}
	return expenses, nil
}
