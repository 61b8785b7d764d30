package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"gitlab.com/yelinaung/subscription-engine/internal/models"
	"gitlab.com/yelinaung/subscription-engine/internal/repository"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func newSubscription(cycle models.BillingCycle, start time.Time) *models.Subscription {
	return &models.Subscription{
		UserID:      1,
		Name:        "Netflix",
		Amount:      decimal.RequireFromString("15.00"),
		Currency:    "USD",
		Cycle:       cycle,
		StartDate:   start,
		NextBilling: start,
		IsActive:    true,
		AutoExpense: true,
		Note:        "family plan",
	}
}

// seed stores sub directly, bypassing the creation path.
func seed(t *testing.T, store *repository.MemoryStore, sub *models.Subscription) *models.Subscription {
	t.Helper()
	require.NoError(t, store.CreateSubscription(context.Background(), sub))
	return sub
}

func reload(t *testing.T, store Store, id uuid.UUID) *models.Subscription {
	t.Helper()
	sub, err := store.GetSubscription(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func periods(expenses []models.Expense) []string {
	out := make([]string, 0, len(expenses))
	for _, exp := range expenses {
		out = append(out, exp.GeneratedForPeriod.Format(time.DateOnly))
	}
	return out
}

func testSettings() Settings {
	return Settings{MaxPeriods: 36, Workers: 4, UnitTimeout: time.Second, Location: time.UTC}
}

var errStorageDown = errors.New("storage unavailable")

// faultyStore fails selected operations for selected subscriptions.
type faultyStore struct {
	*repository.MemoryStore

	mu               sync.Mutex
	failMaterialize  map[uuid.UUID]bool
	failAdvance      map[uuid.UUID]bool
	failList         bool
	failCategory     bool
	materializeCalls int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		MemoryStore:     repository.NewMemoryStore(),
		failMaterialize: make(map[uuid.UUID]bool),
		failAdvance:     make(map[uuid.UUID]bool),
	}
}

func (f *faultyStore) ListDueSubscriptions(ctx context.Context, asOf time.Time) ([]models.Subscription, error) {
	if f.failList {
		return nil, errStorageDown
	}
	return f.MemoryStore.ListDueSubscriptions(ctx, asOf)
}

func (f *faultyStore) MaterializeExpense(ctx context.Context, expense *models.Expense, from, to time.Time) error {
	f.mu.Lock()
	f.materializeCalls++
	fail := f.failMaterialize[*expense.SubscriptionID]
	f.mu.Unlock()
	if fail {
		return errStorageDown
	}
	return f.MemoryStore.MaterializeExpense(ctx, expense, from, to)
}

func (f *faultyStore) AdvanceSchedule(ctx context.Context, id uuid.UUID, from, to time.Time) error {
	if f.failAdvance[id] {
		return errStorageDown
	}
	return f.MemoryStore.AdvanceSchedule(ctx, id, from, to)
}

func (f *faultyStore) CategoryVisible(ctx context.Context, userID int64, categoryID int) (bool, error) {
	if f.failCategory {
		return false, errStorageDown
	}
	return f.MemoryStore.CategoryVisible(ctx, userID, categoryID)
}
