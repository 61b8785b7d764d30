package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/subscription-engine/internal/database"
)

func TestBillingStore_CreateSubscription(t *testing.T) {
	tx := database.TestTx(t)
	ctx := context.Background()

	store := NewBillingStore(tx)
	sub := newTestSubscription(7001, date(2024, 1, 15))
	require.NoError(t, store.CreateSubscription(ctx, sub))

	require.True(t, userExists(t, tx, 7001))

	fetched, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, sub.Name, fetched.Name)

	t.Run("failed insert leaves no owner row behind", func(t *testing.T) {
		bad := newTestSubscription(7002, date(2024, 3, 1))
		bad.NextBilling = date(2024, 2, 1)
		require.Error(t, store.CreateSubscription(ctx, bad))

		require.False(t, userExists(t, tx, 7002))
	})
}

func TestBillingStore_MaterializeExpense(t *testing.T) {
	tx := database.TestTx(t)
	ctx := context.Background()

	store := NewBillingStore(tx)
	sub := createTestSubscription(t, tx, newTestSubscription(7101, date(2024, 1, 15)))

	t.Run("inserts expense and advances schedule together", func(t *testing.T) {
		exp := generatedExpense(sub, date(2024, 1, 15))
		require.NoError(t, store.MaterializeExpense(ctx, exp, date(2024, 1, 15), date(2024, 2, 15)))
		require.NotZero(t, exp.ID)

		reloaded, err := store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		require.True(t, reloaded.NextBilling.Equal(date(2024, 2, 15)))

		ok, err := store.ExpenseExistsForPeriod(ctx, sub.ID, date(2024, 1, 15))
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("duplicate period commits nothing", func(t *testing.T) {
		exp := generatedExpense(sub, date(2024, 1, 15))
		err := store.MaterializeExpense(ctx, exp, date(2024, 2, 15), date(2024, 3, 15))
		require.ErrorIs(t, err, ErrDuplicatePeriod)
		require.Zero(t, exp.ID)

		reloaded, err := store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		require.True(t, reloaded.NextBilling.Equal(date(2024, 2, 15)))
	})

	t.Run("moved schedule rolls back the insert", func(t *testing.T) {
		exp := generatedExpense(sub, date(2024, 2, 15))
		err := store.MaterializeExpense(ctx, exp, date(2024, 1, 15), date(2024, 2, 15))
		require.ErrorIs(t, err, ErrScheduleMoved)
		require.Zero(t, exp.ID)

		ok, err := store.ExpenseExistsForPeriod(ctx, sub.ID, date(2024, 2, 15))
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("dangling category fails without side effects", func(t *testing.T) {
		missing := 999999
		exp := generatedExpense(sub, date(2024, 2, 15))
		exp.CategoryID = &missing
		err := store.MaterializeExpense(ctx, exp, date(2024, 2, 15), date(2024, 3, 15))
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrDuplicatePeriod)

		reloaded, err := store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		require.True(t, reloaded.NextBilling.Equal(date(2024, 2, 15)))
	})

	t.Run("requires a subscription", func(t *testing.T) {
		exp := generatedExpense(sub, date(2024, 2, 15))
		exp.SubscriptionID = nil
		require.Error(t, store.MaterializeExpense(ctx, exp, date(2024, 2, 15), date(2024, 3, 15)))
	})

	expenses, err := store.ListExpensesBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
}

func TestBillingStore_AdvanceSchedule(t *testing.T) {
	tx := database.TestTx(t)
	ctx := context.Background()

	store := NewBillingStore(tx)
	sub := createTestSubscription(t, tx, newTestSubscription(7201, date(2024, 1, 15)))

	require.NoError(t, store.AdvanceSchedule(ctx, sub.ID, date(2024, 1, 15), date(2024, 2, 15)))
	require.ErrorIs(t, store.AdvanceSchedule(ctx, sub.ID, date(2024, 1, 15), date(2024, 2, 15)), ErrScheduleMoved)

	expenses, err := store.ListExpensesBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Empty(t, expenses)
}

func TestBillingStore_CategoryVisible(t *testing.T) {
	tx := database.TestTx(t)
	ctx := context.Background()

	store := NewBillingStore(tx)
	require.NoError(t, NewUserRepository(tx).EnsureUser(ctx, 7301))
	owner := int64(7301)
	cat := insertCategory(t, tx, uniqueName("Private"), &owner)

	ok, err := store.CategoryVisible(ctx, 7301, cat.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.CategoryVisible(ctx, 7302, cat.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBillingStore_OwnerQueries(t *testing.T) {
	tx := database.TestTx(t)
	ctx := context.Background()

	store := NewBillingStore(tx)
	spotify := newTestSubscription(7501, date(2024, 1, 15))
	spotify.Name = "Spotify"
	createTestSubscription(t, tx, spotify)
	netflix := createTestSubscription(t, tx, newTestSubscription(7501, date(2024, 1, 15)))

	subs, err := store.ListSubscriptionsByUser(ctx, 7501)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, netflix.ID, subs[0].ID)
	require.Equal(t, spotify.ID, subs[1].ID)

	t.Run("toggles persist without moving the schedule", func(t *testing.T) {
		require.NoError(t, store.SetSubscriptionActive(ctx, netflix.ID, false))
		require.NoError(t, store.SetSubscriptionAutoExpense(ctx, netflix.ID, false))

		reloaded, err := store.GetSubscription(ctx, netflix.ID)
		require.NoError(t, err)
		require.False(t, reloaded.IsActive)
		require.False(t, reloaded.AutoExpense)
		require.True(t, reloaded.NextBilling.Equal(date(2024, 1, 15)))
	})

	t.Run("unknown subscription is not found", func(t *testing.T) {
		missing := uuid.New()
		require.ErrorIs(t, store.SetSubscriptionActive(ctx, missing, true), ErrNotFound)
		require.ErrorIs(t, store.SetSubscriptionAutoExpense(ctx, missing, true), ErrNotFound)
	})

	t.Run("total sums generated expenses", func(t *testing.T) {
		require.NoError(t, store.MaterializeExpense(ctx, generatedExpense(spotify, date(2024, 1, 15)),
			date(2024, 1, 15), date(2024, 2, 15)))
		require.NoError(t, store.MaterializeExpense(ctx, generatedExpense(spotify, date(2024, 2, 15)),
			date(2024, 2, 15), date(2024, 3, 15)))

		total, err := store.ExpenseTotal(ctx, spotify.ID)
		require.NoError(t, err)
		require.Equal(t, "30.00", total.StringFixed(2))
	})
}

// TestBillingStore_ConcurrentMaterialize races committed writers over the
// pool, so it cleans up its own rows instead of relying on a rollback.
func TestBillingStore_ConcurrentMaterialize(t *testing.T) {
	pool := database.TestPool(t)
	ctx := context.Background()

	store := NewBillingStore(pool)
	sub := createTestSubscription(t, pool, newTestSubscription(7401, date(2024, 1, 15)))
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, `DELETE FROM expenses WHERE subscription_id = $1`, sub.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, sub.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, sub.UserID)
	})

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.MaterializeExpense(ctx, generatedExpense(sub, date(2024, 1, 15)),
				date(2024, 1, 15), date(2024, 2, 15))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrDuplicatePeriod), errors.Is(err, ErrScheduleMoved):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, writers-1, conflicts)

	expenses, err := store.ListExpensesBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, expenses, 1)

	reloaded, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, reloaded.NextBilling.Equal(date(2024, 2, 15)))
}
