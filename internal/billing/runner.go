package billing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"gitlab.com/yelinaung/subscription-engine/internal/logger"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// backlogEstimateLimit bounds the per-subscription backlog estimate.
const backlogEstimateLimit = 10000

// Runner brings every due subscription up to date, one period at a time.
type Runner struct {
	store        Store
	materializer *Materializer
	settings     Settings
	inst         *instruments
}

// NewRunner creates a Runner.
func NewRunner(store Store, materializer *Materializer, settings Settings) *Runner {
	return &Runner{
		store:        store,
		materializer: materializer,
		settings:     settings.withDefaults(),
		inst:         newInstruments(),
	}
}

// subscriptionResult is what one worker learned about one subscription.
type subscriptionResult struct {
	id         uuid.UUID
	created    int
	advanced   int
	repaired   int
	duplicates int
	backlog    bool
	remaining  int
	degraded   bool
	failure    *models.RunFailure
}

// Run processes every subscription due as of asOf. Subscriptions are handled
// independently on a bounded worker pool; a failure in one never stops the
// others. The only error returned is a failure to list candidates. When ctx
// is cancelled no new subscriptions are started and the partial report is
// returned with Cancelled set.
func (r *Runner) Run(ctx context.Context, asOf time.Time) (*models.RunReport, error) {
	asOfDate := DateOf(asOf, r.settings.Location)
	report := &models.RunReport{
		AsOf:      asOfDate,
		StartedAt: time.Now(),
	}

	ctx, span := r.inst.tracer.Start(ctx, "billing.run",
		trace.WithAttributes(attribute.String("billing.as_of", asOfDate.Format(time.DateOnly))))
	defer span.End()

	candidates, err := r.store.ListDueSubscriptions(ctx, asOfDate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due subscriptions")
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.settings.Workers)

	for i := range candidates {
		sub := candidates[i]
		if ctx.Err() != nil {
			break
		}

		if verdict := Check(&sub, asOfDate); verdict != VerdictDue {
			report.SkippedLifecycle = append(report.SkippedLifecycle, models.LifecycleSkip{
				SubscriptionID: sub.ID,
				Reason:         string(verdict),
			})
			continue
		}

		report.SubscriptionsProcessed++
		g.Go(func() error {
			res := r.processSubscription(ctx, sub, asOfDate)
			mu.Lock()
			mergeResult(report, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Cancelled = ctx.Err() != nil
	report.FinishedAt = time.Now()
	sortReport(report)

	r.inst.runDuration.Record(ctx, report.Duration().Seconds())
	span.SetAttributes(
		attribute.Int("billing.subscriptions", report.SubscriptionsProcessed),
		attribute.Int("billing.expenses_created", report.ExpensesCreated),
		attribute.Int("billing.failures", len(report.Failures)),
		attribute.Int("billing.backlog", len(report.BacklogRemaining)),
	)
	if len(report.Failures) > 0 {
		span.SetStatus(codes.Error, "some subscriptions failed")
	}

	logger.Log.Info().
		Str("as_of", asOfDate.Format(time.DateOnly)).
		Int("subscriptions", report.SubscriptionsProcessed).
		Int("expenses_created", report.ExpensesCreated).
		Int("schedules_advanced", report.SchedulesAdvanced).
		Int("duplicates", report.DuplicatesAbsorbed).
		Int("backlog", len(report.BacklogRemaining)).
		Int("backlog_periods", report.BacklogPeriods).
		Int("failures", len(report.Failures)).
		Bool("cancelled", report.Cancelled).
		Dur("duration", report.Duration()).
		Msg("Catch-up run finished")

	return report, nil
}

// processSubscription advances one subscription period by period until it is
// caught up, has ended, or hits the per-run cap. Each step reloads the
// persisted schedule, so steps are strictly sequential.
func (r *Runner) processSubscription(ctx context.Context, sub models.Subscription, asOf time.Time) subscriptionResult {
	res := subscriptionResult{id: sub.ID}

	ctx, span := r.inst.tracer.Start(ctx, "billing.subscription",
		trace.WithAttributes(attribute.String("subscription.id", sub.ID.String())))
	defer span.End()

	fail := func(period time.Time, err error) subscriptionResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, "subscription failed")
		r.inst.failures.Add(ctx, 1)
		logger.Log.Error().
			Err(err).
			Str("subscription_id", sub.ID.String()).
			Str("user_hash", logger.HashUserID(sub.UserID)).
			Str("period", period.Format(time.DateOnly)).
			Msg("Failed to process subscription")
		res.failure = &models.RunFailure{SubscriptionID: sub.ID, Period: period, Error: err.Error()}
		return res
	}

	if !sub.Cycle.Valid() {
		return fail(sub.NextBilling, fmt.Errorf("%w: %q", ErrUnknownCycle, sub.Cycle))
	}

	current := &sub
loop:
	for step := 0; ; step++ {
		if ctx.Err() != nil || !IsDue(current, asOf) {
			break
		}
		if step == r.settings.MaxPeriods {
			res.backlog = true
			break
		}

		period := Normalize(current.NextBilling)
		duplicate := false

		var err error
		if current.AutoExpense {
			var expense *models.Expense
			expense, err = r.materializer.Materialize(ctx, current, period)
			if err == nil {
				res.created++
				if current.CategoryID != nil && expense.CategoryID == nil {
					res.degraded = true
				}
			}
		} else {
			err = r.materializer.AdvanceScheduleOnly(ctx, current, period)
			if err == nil {
				res.advanced++
			}
		}

		switch {
		case err == nil, errors.Is(err, ErrScheduleConflict):
		case errors.Is(err, ErrAlreadyMaterialized):
			res.duplicates++
			duplicate = true
		case errors.Is(err, ErrSkipped):
			break loop
		case ctx.Err() != nil:
			break loop
		default:
			return fail(period, err)
		}

		reloaded, err := r.store.GetSubscription(ctx, current.ID)
		if err != nil {
			return fail(period, err)
		}

		// The period has an expense but the schedule still points at it.
		// Move it along so the subscription does not stall on that period.
		if duplicate && SameDate(reloaded.NextBilling, period) && IsDue(reloaded, asOf) {
			switch err := r.materializer.AdvanceScheduleOnly(ctx, reloaded, period); {
			case err == nil:
				res.repaired++
				logger.Log.Warn().
					Str("subscription_id", sub.ID.String()).
					Str("period", period.Format(time.DateOnly)).
					Msg("Repaired schedule stuck on an already materialized period")
			case errors.Is(err, ErrScheduleConflict), errors.Is(err, ErrSkipped):
			default:
				return fail(period, err)
			}
		}
		current = reloaded
	}

	if res.backlog {
		res.remaining = remainingPeriods(current, asOf)
		r.inst.backlog.Add(ctx, 1)
		logger.Log.Info().
			Str("subscription_id", sub.ID.String()).
			Int("max_periods", r.settings.MaxPeriods).
			Int("periods_remaining", res.remaining).
			Str("next_billing", current.NextBilling.Format(time.DateOnly)).
			Msg("Subscription still has backlog, resuming next run")
	}
	span.SetAttributes(attribute.Int("billing.periods", res.created+res.advanced))
	return res
}

// remainingPeriods counts the periods sub still owes through asOf, stopping
// at its end date.
func remainingPeriods(sub *models.Subscription, asOf time.Time) int {
	through := asOf
	if sub.EndDate != nil && Before(*sub.EndDate, through) {
		through = Normalize(*sub.EndDate)
	}
	return len(Occurrences(Normalize(sub.NextBilling), sub.Cycle, through, backlogEstimateLimit))
}

func mergeResult(report *models.RunReport, res subscriptionResult) {
	report.ExpensesCreated += res.created
	report.SchedulesAdvanced += res.advanced
	report.SchedulesRepaired += res.repaired
	report.DuplicatesAbsorbed += res.duplicates
	if res.backlog {
		report.BacklogRemaining = append(report.BacklogRemaining, res.id)
		report.BacklogPeriods += res.remaining
	}
	if res.degraded {
		report.CategoryDegraded = append(report.CategoryDegraded, res.id)
	}
	if res.failure != nil {
		report.Failures = append(report.Failures, *res.failure)
	}
}

func sortReport(report *models.RunReport) {
	byID := func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) }
	slices.SortFunc(report.BacklogRemaining, byID)
	slices.SortFunc(report.CategoryDegraded, byID)
	slices.SortFunc(report.Failures, func(a, b models.RunFailure) int {
		return byID(a.SubscriptionID, b.SubscriptionID)
	})
}
