package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitlab.com/yelinaung/subscription-engine/internal/logger"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// Creator persists new subscriptions and bills their first occurrence when
// it is already due.
type Creator struct {
	store        Store
	materializer *Materializer
	loc          *time.Location
}

// NewCreator creates a Creator. loc is the calendar "today" is read in.
func NewCreator(store Store, materializer *Materializer, loc *time.Location) *Creator {
	if loc == nil {
		loc = time.UTC
	}
	return &Creator{store: store, materializer: materializer, loc: loc}
}

// CreateResult is the outcome of creating a subscription.
type CreateResult struct {
	Subscription *models.Subscription
	// FirstExpense is set when the first occurrence was billed immediately.
	FirstExpense *models.Expense
}

// Create validates and stores sub. If the subscription is already due as of
// now and auto expense is on, the caller's NextBilling is materialized once.
// A failed first materialization does not fail creation; the catch-up run
// bills that period later.
func (c *Creator) Create(ctx context.Context, sub *models.Subscription, now time.Time) (*CreateResult, error) {
	sub.StartDate = Normalize(sub.StartDate)
	sub.NextBilling = Normalize(sub.NextBilling)
	if sub.EndDate != nil {
		end := Normalize(*sub.EndDate)
		sub.EndDate = &end
	}

	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := c.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	logger.Log.Info().
		Str("subscription_id", sub.ID.String()).
		Str("user_hash", logger.HashUserID(sub.UserID)).
		Str("name", logger.SanitizeText(sub.Name)).
		Str("note", logger.SanitizeNote(sub.Note)).
		Str("cycle", string(sub.Cycle)).
		Str("next_billing", sub.NextBilling.Format(time.DateOnly)).
		Msg("Subscription created")

	result := &CreateResult{Subscription: sub}
	if !sub.AutoExpense || !IsDue(sub, DateOf(now, c.loc)) {
		return result, nil
	}

	expense, err := c.materializer.Materialize(ctx, sub, sub.NextBilling)
	switch {
	case err == nil:
		result.FirstExpense = expense
	case errors.Is(err, ErrAlreadyMaterialized), errors.Is(err, ErrScheduleConflict):
	default:
		logger.Log.Warn().
			Err(err).
			Str("subscription_id", sub.ID.String()).
			Msg("Failed to bill first occurrence, leaving it to the catch-up run")
	}
	return result, nil
}
