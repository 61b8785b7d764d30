package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gitlab.com/yelinaung/subscription-engine/internal/database"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// SubscriptionRepository handles subscription database operations.
type SubscriptionRepository struct {
	db database.PGXDB
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db database.PGXDB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, user_id, name, amount, currency, cycle, start_date, next_billing, end_date,
	is_active, auto_expense, category_id, note, created_at, updated_at`

// Create inserts a subscription. A zero ID is replaced with a new UUID.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO subscriptions (id, user_id, name, amount, currency, cycle, start_date, next_billing, end_date,
			is_active, auto_expense, category_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, sub.ID, sub.UserID, sub.Name, sub.Amount, sub.Currency, string(sub.Cycle), sub.StartDate, sub.NextBilling,
		sub.EndDate, sub.IsActive, sub.AutoExpense, sub.CategoryID, sub.Note,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription by ID.
func (r *SubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	defer rows.Close()

	subs, err := scanSubscriptions(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("failed to get subscription: %w", ErrNotFound)
	}
	return &subs[0], nil
}

// ListDue retrieves subscriptions whose next billing date is on or before
// asOf. Inactive and ended ones are included so the caller's lifecycle
// check can report them.
func (r *SubscriptionRepository) ListDue(ctx context.Context, asOf time.Time) ([]models.Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE next_billing <= $1
		ORDER BY next_billing, id
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query due subscriptions: %w", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// ListByUser retrieves all subscriptions owned by a user.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID int64) ([]models.Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1
		ORDER BY name, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// AdvanceNextBilling moves next_billing from one period to the next with a
// compare-and-set. ErrScheduleMoved means another writer got there first.
func (r *SubscriptionRepository) AdvanceNextBilling(ctx context.Context, id uuid.UUID, from, to time.Time) error {
	if !to.After(from) {
		return fmt.Errorf("failed to advance subscription: next billing %s is not after %s",
			to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET next_billing = $3, updated_at = NOW()
		WHERE id = $1 AND next_billing = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to advance subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleMoved
	}
	return nil
}

// SetActive activates or deactivates a subscription.
func (r *SubscriptionRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update subscription: %w", ErrNotFound)
	}
	return nil
}

// SetAutoExpense toggles expense generation for a subscription.
func (r *SubscriptionRepository) SetAutoExpense(ctx context.Context, id uuid.UUID, auto bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET auto_expense = $2, updated_at = NOW() WHERE id = $1
	`, id, auto)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update subscription: %w", ErrNotFound)
	}
	return nil
}

func scanSubscriptions(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
},
) ([]models.Subscription, error) {
	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		var cycle string
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.Name, &sub.Amount, &sub.Currency, &cycle, &sub.StartDate, &sub.NextBilling,
			&sub.EndDate, &sub.IsActive, &sub.AutoExpense, &sub.CategoryID, &sub.Note, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		sub.Cycle = models.BillingCycle(cycle)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return subs, nil
}
