package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"gitlab.com/yelinaung/subscription-engine/internal/logger"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
	"gitlab.com/yelinaung/subscription-engine/internal/repository"
)

// Materializer creates exactly one expense per subscription period and
// advances the schedule in the same unit of work.
type Materializer struct {
	store       Store
	categories  *CategoryResolver
	unitTimeout time.Duration
	inst        *instruments
}

// NewMaterializer creates a Materializer. A zero unitTimeout disables the
// per-unit deadline.
func NewMaterializer(store Store, categories *CategoryResolver, unitTimeout time.Duration) *Materializer {
	return &Materializer{
		store:       store,
		categories:  categories,
		unitTimeout: unitTimeout,
		inst:        newInstruments(),
	}
}

// Materialize bills sub for period, which must be the subscription's current
// next billing date. On success sub.NextBilling is moved to the following
// occurrence. Returns ErrSkipped, ErrAlreadyMaterialized or
// ErrScheduleConflict without writing anything; other errors are storage
// failures.
func (m *Materializer) Materialize(ctx context.Context, sub *models.Subscription, period time.Time) (*models.Expense, error) {
	period = Normalize(period)

	if !sub.Cycle.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCycle, sub.Cycle)
	}
	if reason := skipReason(sub, period); reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrSkipped, reason)
	}

	ctx, cancel := m.unitContext(ctx)
	defer cancel()

	exists, err := m.store.ExpenseExistsForPeriod(ctx, sub.ID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing expense: %w", err)
	}
	if exists {
		m.inst.duplicates.Add(ctx, 1)
		return nil, ErrAlreadyMaterialized
	}

	categoryID, _ := m.categories.Resolve(ctx, sub.UserID, sub.CategoryID)
	subscriptionID := sub.ID
	generatedFor := period
	expense := &models.Expense{
		UserID:             sub.UserID,
		Amount:             sub.Amount,
		Currency:           sub.Currency,
		Description:        sub.Note,
		Merchant:           sub.Name,
		CategoryID:         categoryID,
		Status:             models.ExpenseStatusConfirmed,
		OccurredAt:         period,
		SubscriptionID:     &subscriptionID,
		GeneratedForPeriod: &generatedFor,
	}

	next := Advance(period, sub.Cycle)
	if err := m.store.MaterializeExpense(ctx, expense, period, next); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicatePeriod):
			m.inst.duplicates.Add(ctx, 1)
			return nil, ErrAlreadyMaterialized
		case errors.Is(err, repository.ErrScheduleMoved):
			return nil, ErrScheduleConflict
		}
		return nil, fmt.Errorf("failed to materialize expense: %w", err)
	}

	sub.NextBilling = next
	m.inst.expensesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("cycle", string(sub.Cycle))))

	logger.Log.Debug().
		Str("subscription_id", sub.ID.String()).
		Str("user_hash", logger.HashUserID(sub.UserID)).
		Str("period", period.Format(time.DateOnly)).
		Str("next_billing", next.Format(time.DateOnly)).
		Int("expense_id", expense.ID).
		Msg("Materialized subscription expense")

	return expense, nil
}

// AdvanceScheduleOnly moves sub past period without creating an expense.
// It is used for subscriptions that track a cost without auto expense.
func (m *Materializer) AdvanceScheduleOnly(ctx context.Context, sub *models.Subscription, period time.Time) error {
	period = Normalize(period)

	if !sub.Cycle.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCycle, sub.Cycle)
	}
	if sub.EndDate != nil && After(period, *sub.EndDate) {
		return fmt.Errorf("%w: period after end date", ErrSkipped)
	}

	ctx, cancel := m.unitContext(ctx)
	defer cancel()

	next := Advance(period, sub.Cycle)
	if err := m.store.AdvanceSchedule(ctx, sub.ID, period, next); err != nil {
		if errors.Is(err, repository.ErrScheduleMoved) {
			return ErrScheduleConflict
		}
		return fmt.Errorf("failed to advance schedule: %w", err)
	}

	sub.NextBilling = next
	m.inst.schedulesAdvanced.Add(ctx, 1)
	return nil
}

func (m *Materializer) unitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.unitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.unitTimeout)
}

func skipReason(sub *models.Subscription, period time.Time) string {
	switch {
	case !sub.IsActive:
		return "subscription inactive"
	case !sub.AutoExpense:
		return "auto expense disabled"
	case Before(period, sub.StartDate):
		return "period before start date"
	case sub.EndDate != nil && After(period, *sub.EndDate):
		return "period after end date"
	}
	return ""
}
