package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/subscription-engine/internal/database"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestSubscription(userID int64, start time.Time) *models.Subscription {
	return &models.Subscription{
		UserID:      userID,
		Name:        "Netflix",
		Amount:      decimal.RequireFromString("15.00"),
		Currency:    "USD",
		Cycle:       models.CycleMonthly,
		StartDate:   start,
		NextBilling: start,
		IsActive:    true,
		AutoExpense: true,
		Note:        "family plan",
	}
}

// createTestSubscription stores sub through the billing store so the owner row exists.
func createTestSubscription(t *testing.T, db database.TxDB, sub *models.Subscription) *models.Subscription {
	t.Helper()
	require.NoError(t, NewBillingStore(db).CreateSubscription(context.Background(), sub))
	require.NotEqual(t, uuid.Nil, sub.ID)
	return sub
}

// generatedExpense builds the expense the billing engine would create for period.
func generatedExpense(sub *models.Subscription, period time.Time) *models.Expense {
	id := sub.ID
	p := period
	return &models.Expense{
		UserID:             sub.UserID,
		Amount:             sub.Amount,
		Currency:           sub.Currency,
		Description:        sub.Name,
		Merchant:           sub.Name,
		CategoryID:         sub.CategoryID,
		OccurredAt:         period,
		SubscriptionID:     &id,
		GeneratedForPeriod: &p,
	}
}

func uniqueName(prefix string) string {
	return prefix + " " + uuid.NewString()[:8]
}

// pgxSavepoint runs fn in a savepoint so an expected constraint error does
// not abort the surrounding test transaction.
func pgxSavepoint(ctx context.Context, db database.TxDB, fn func(database.PGXDB) error) error {
	return pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

func insertCategory(t *testing.T, db database.PGXDB, name string, userID *int64) models.Category {
	t.Helper()
	var cat models.Category
	err := db.QueryRow(context.Background(), `
		INSERT INTO categories (name, user_id) VALUES ($1, $2)
		RETURNING id, user_id, name, created_at
	`, name, userID).Scan(&cat.ID, &cat.UserID, &cat.Name, &cat.CreatedAt)
	require.NoError(t, err)
	return cat
}

func deleteCategory(t *testing.T, db database.PGXDB, id int) {
	t.Helper()
	_, err := db.Exec(context.Background(), `DELETE FROM categories WHERE id = $1`, id)
	require.NoError(t, err)
}

func userExists(t *testing.T, db database.PGXDB, id int64) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(context.Background(), `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	require.NoError(t, err)
	return exists
}
