package billing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"gitlab.com/yelinaung/subscription-engine/internal/logger"
)

const instrumentationName = "gitlab.com/yelinaung/subscription-engine/internal/billing"

type instruments struct {
	tracer            trace.Tracer
	expensesCreated   metric.Int64Counter
	schedulesAdvanced metric.Int64Counter
	duplicates        metric.Int64Counter
	failures          metric.Int64Counter
	backlog           metric.Int64Counter
	runDuration       metric.Float64Histogram
}

func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Log.Warn().Err(err).Str("instrument", name).Msg("Failed to create counter")
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	runDuration, err := meter.Float64Histogram("billing.run.duration",
		metric.WithDescription("Duration of catch-up runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to create run duration histogram")
		runDuration, _ = fallback.Float64Histogram("billing.run.duration")
	}

	return &instruments{
		tracer:            otel.Tracer(instrumentationName),
		expensesCreated:   counter("billing.expenses.created", "Expenses materialized from subscriptions"),
		schedulesAdvanced: counter("billing.schedules.advanced", "Schedule-only advances for subscriptions without auto expense"),
		duplicates:        counter("billing.duplicates.absorbed", "Materializations absorbed because the period already had an expense"),
		failures:          counter("billing.subscriptions.failed", "Subscriptions aborted by storage failures"),
		backlog:           counter("billing.subscriptions.backlog", "Subscriptions left with backlog after hitting the period cap"),
		runDuration:       runDuration,
	}
}
