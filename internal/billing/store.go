package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// Store is the persistence the engine needs. MaterializeExpense and
// AdvanceSchedule must each be atomic and must compare-and-set next billing
// from -> to; MaterializeExpense must also enforce uniqueness of
// (subscription, period) in storage.
type Store interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListDueSubscriptions(ctx context.Context, asOf time.Time) ([]models.Subscription, error)
	ExpenseExistsForPeriod(ctx context.Context, subscriptionID uuid.UUID, period time.Time) (bool, error)
	MaterializeExpense(ctx context.Context, expense *models.Expense, from, to time.Time) error
	AdvanceSchedule(ctx context.Context, subscriptionID uuid.UUID, from, to time.Time) error
}

var (
	// ErrSkipped is returned when a subscription must not be billed for a period.
	ErrSkipped = errors.New("billing skipped")

	// ErrAlreadyMaterialized is returned when the period already has an
	// expense. It is expected under retries and concurrent runs.
	ErrAlreadyMaterialized = errors.New("period already materialized")

	// ErrScheduleConflict is returned when the subscription's next billing
	// moved before the unit of work could commit. Nothing was written.
	ErrScheduleConflict = errors.New("subscription schedule changed concurrently")

	// ErrUnknownCycle is returned for a cycle kind the engine does not recognize.
	ErrUnknownCycle = errors.New("unrecognized billing cycle")
)
