package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// MemoryStore is an in-process store with the same contract as
// BillingStore and RunRepository, for tests and STORE=memory runs.
type MemoryStore struct {
	mu            sync.RWMutex
	subscriptions map[uuid.UUID]models.Subscription
	expenses      []models.Expense
	periods       map[periodKey]int
	categories    map[int]models.Category
	runs          []models.RunReport
	nextExpenseID int
	nextCatID     int
	nextRunID     int64
}

type periodKey struct {
	SubscriptionID uuid.UUID
	Period         string
}

func keyFor(id uuid.UUID, period time.Time) periodKey {
	return periodKey{SubscriptionID: id, Period: period.Format(time.DateOnly)}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[uuid.UUID]models.Subscription),
		periods:       make(map[periodKey]int),
		categories:    make(map[int]models.Category),
	}
}

// CreateSubscription stores a copy of sub. A zero ID is replaced with a new UUID.
func (m *MemoryStore) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if _, exists := m.subscriptions[sub.ID]; exists {
		return fmt.Errorf("failed to create subscription: duplicate id %s", sub.ID)
	}
	if sub.NextBilling.Before(sub.StartDate) {
		return fmt.Errorf("failed to create subscription: next billing before start date")
	}
	now := time.Now()
	sub.CreatedAt, sub.UpdatedAt = now, now
	m.subscriptions[sub.ID] = cloneSubscription(*sub)
	return nil
}

// GetSubscription returns a copy of the stored subscription.
func (m *MemoryStore) GetSubscription(_ context.Context, id uuid.UUID) (*models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("failed to get subscription: %w", ErrNotFound)
	}
	out := cloneSubscription(sub)
	return &out, nil
}

// ListDueSubscriptions returns subscriptions with next billing on or before
// asOf, inactive ones included.
func (m *MemoryStore) ListDueSubscriptions(_ context.Context, asOf time.Time) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []models.Subscription
	for _, sub := range m.subscriptions {
		if !sub.NextBilling.After(asOf) {
			due = append(due, cloneSubscription(sub))
		}
	}
	slices.SortFunc(due, func(a, b models.Subscription) int {
		if c := a.NextBilling.Compare(b.NextBilling); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return due, nil
}

// ExpenseExistsForPeriod reports whether the period was already materialized.
func (m *MemoryStore) ExpenseExistsForPeriod(_ context.Context, subscriptionID uuid.UUID, period time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.periods[keyFor(subscriptionID, period)]
	return ok, nil
}

// MaterializeExpense inserts the expense and advances the schedule atomically.
func (m *MemoryStore) MaterializeExpense(_ context.Context, expense *models.Expense, from, to time.Time) error {
	if !expense.IsGenerated() {
		return fmt.Errorf("failed to materialize expense: subscription and period are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyFor(*expense.SubscriptionID, *expense.GeneratedForPeriod)
	if _, exists := m.periods[key]; exists {
		return ErrDuplicatePeriod
	}
	sub, err := m.casLocked(*expense.SubscriptionID, from, to)
	if err != nil {
		return err
	}

	m.nextExpenseID++
	now := time.Now()
	expense.ID = m.nextExpenseID
	expense.CreatedAt, expense.UpdatedAt = now, now
	if expense.Status == "" {
		expense.Status = models.ExpenseStatusConfirmed
	}
	m.expenses = append(m.expenses, cloneExpense(*expense))
	m.periods[key] = len(m.expenses) - 1
	m.subscriptions[sub.ID] = sub
	return nil
}

// AdvanceSchedule moves next billing without creating an expense.
func (m *MemoryStore) AdvanceSchedule(_ context.Context, subscriptionID uuid.UUID, from, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, err := m.casLocked(subscriptionID, from, to)
	if err != nil {
		return err
	}
	m.subscriptions[sub.ID] = sub
	return nil
}

// casLocked returns the subscription advanced from -> to without storing it.
func (m *MemoryStore) casLocked(id uuid.UUID, from, to time.Time) (models.Subscription, error) {
	if !to.After(from) {
		return models.Subscription{}, fmt.Errorf("failed to advance subscription: next billing %s is not after %s",
			to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	sub, ok := m.subscriptions[id]
	if !ok {
		return models.Subscription{}, fmt.Errorf("failed to advance subscription: %w", ErrNotFound)
	}
	if !sub.NextBilling.Equal(from) {
		return models.Subscription{}, ErrScheduleMoved
	}
	sub.NextBilling = to
	sub.UpdatedAt = time.Now()
	return sub, nil
}

// ListExpensesBySubscription returns the generated expenses, oldest period first.
func (m *MemoryStore) ListExpensesBySubscription(_ context.Context, subscriptionID uuid.UUID) ([]models.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Expense
	for _, exp := range m.expenses {
		if exp.SubscriptionID != nil && *exp.SubscriptionID == subscriptionID {
			out = append(out, cloneExpense(exp))
		}
	}
	slices.SortFunc(out, func(a, b models.Expense) int {
		return a.GeneratedForPeriod.Compare(*b.GeneratedForPeriod)
	})
	return out, nil
}

// ListSubscriptionsByUser returns the owner's subscriptions ordered by name.
func (m *MemoryStore) ListSubscriptionsByUser(_ context.Context, userID int64) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Subscription
	for _, sub := range m.subscriptions {
		if sub.UserID == userID {
			out = append(out, cloneSubscription(sub))
		}
	}
	slices.SortFunc(out, func(a, b models.Subscription) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

// SetSubscriptionActive pauses or resumes a subscription.
func (m *MemoryStore) SetSubscriptionActive(_ context.Context, id uuid.UUID, active bool) error {
	return m.update(id, func(sub *models.Subscription) { sub.IsActive = active })
}

// SetSubscriptionAutoExpense turns expense generation on or off.
func (m *MemoryStore) SetSubscriptionAutoExpense(_ context.Context, id uuid.UUID, auto bool) error {
	return m.update(id, func(sub *models.Subscription) { sub.AutoExpense = auto })
}

func (m *MemoryStore) update(id uuid.UUID, fn func(*models.Subscription)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[id]
	if !ok {
		return fmt.Errorf("failed to update subscription: %w", ErrNotFound)
	}
	fn(&sub)
	sub.UpdatedAt = time.Now()
	m.subscriptions[id] = sub
	return nil
}

// ExpenseTotal sums the confirmed expenses generated for a subscription.
func (m *MemoryStore) ExpenseTotal(_ context.Context, subscriptionID uuid.UUID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, exp := range m.expenses {
		if exp.SubscriptionID != nil && *exp.SubscriptionID == subscriptionID &&
			exp.Status == models.ExpenseStatusConfirmed {
			total = total.Add(exp.Amount)
		}
	}
	return total, nil
}

// Expenses returns every stored expense in insertion order.
func (m *MemoryStore) Expenses() []models.Expense {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Expense, 0, len(m.expenses))
	for _, exp := range m.expenses {
		out = append(out, cloneExpense(exp))
	}
	return out
}

// UpdateSubscription replaces a stored subscription, as a user edit would.
func (m *MemoryStore) UpdateSubscription(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscriptions[sub.ID]; !ok {
		return fmt.Errorf("failed to update subscription: %w", ErrNotFound)
	}
	sub.UpdatedAt = time.Now()
	m.subscriptions[sub.ID] = cloneSubscription(*sub)
	return nil
}

// AddCategory stores a category. A nil userID makes it shared.
func (m *MemoryStore) AddCategory(name string, userID *int64) models.Category {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextCatID++
	cat := models.Category{ID: m.nextCatID, UserID: userID, Name: name, CreatedAt: time.Now()}
	m.categories[cat.ID] = cat
	return cat
}

// DeleteCategory removes a category. Expenses referencing it become uncategorized.
func (m *MemoryStore) DeleteCategory(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.categories, id)
	for i := range m.expenses {
		if m.expenses[i].CategoryID != nil && *m.expenses[i].CategoryID == id {
			m.expenses[i].CategoryID = nil
		}
	}
}

// CategoryVisible reports whether a category exists for the owner.
func (m *MemoryStore) CategoryVisible(_ context.Context, userID int64, categoryID int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cat, ok := m.categories[categoryID]
	return ok && cat.VisibleTo(userID), nil
}

// SaveRun stores a run report and sets its ID.
func (m *MemoryStore) SaveRun(_ context.Context, report *models.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRunID++
	report.ID = m.nextRunID
	m.runs = append(m.runs, *report)
	return nil
}

// ListRuns returns the most recent reports, newest first.
func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]models.RunReport, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.RunReport, 0, min(limit, len(m.runs)))
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func cloneSubscription(sub models.Subscription) models.Subscription {
	if sub.EndDate != nil {
		end := *sub.EndDate
		sub.EndDate = &end
	}
	if sub.CategoryID != nil {
		id := *sub.CategoryID
		sub.CategoryID = &id
	}
	return sub
}

func cloneExpense(exp models.Expense) models.Expense {
	if exp.CategoryID != nil {
		id := *exp.CategoryID
		exp.CategoryID = &id
	}
	if exp.SubscriptionID != nil {
		id := *exp.SubscriptionID
		exp.SubscriptionID = &id
	}
	if exp.GeneratedForPeriod != nil {
		p := *exp.GeneratedForPeriod
		exp.GeneratedForPeriod = &p
	}
	exp.Category = nil
	return exp
}
