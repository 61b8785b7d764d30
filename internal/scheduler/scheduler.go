// Package scheduler triggers catch-up billing runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gitlab.com/yelinaung/subscription-engine/internal/logger"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// saveTimeout bounds persisting a report after the run itself finished.
const saveTimeout = 10 * time.Second

// Runner performs one catch-up run.
type Runner interface {
	Run(ctx context.Context, asOf time.Time) (*models.RunReport, error)
}

// RunStore persists run reports.
type RunStore interface {
	SaveRun(ctx context.Context, report *models.RunReport) error
}

// Options configures a Scheduler.
type Options struct {
	// Spec is a standard cron expression or descriptor such as "@hourly".
	Spec       string
	Location   *time.Location
	RunTimeout time.Duration
}

// Scheduler invokes the runner periodically and records every report.
type Scheduler struct {
	cron       *cron.Cron
	runner     Runner
	runs       RunStore
	spec       string
	runTimeout time.Duration
	now        func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. The cron spec is validated here.
func New(runner Runner, runs RunStore, opts Options) (*Scheduler, error) {
	if _, err := cron.ParseStandard(opts.Spec); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", opts.Spec, err)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	cl := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:     runner,
		runs:       runs,
		spec:       opts.Spec,
		runTimeout: opts.RunTimeout,
		now:        time.Now,
	}, nil
}

// RunOnce performs a run as of asOf under the run timeout and saves the
// report, even when the run was cut short.
func (s *Scheduler) RunOnce(ctx context.Context, asOf time.Time) (*models.RunReport, error) {
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
	}
	defer cancel()

	report, err := s.runner.Run(runCtx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to run catch-up: %w", err)
	}

	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancelSave()
	if err := s.runs.SaveRun(saveCtx, report); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to save run report")
		return report, fmt.Errorf("failed to save run report: %w", err)
	}
	return report, nil
}

// Start registers the periodic job, kicks off one run immediately and
// starts the cron loop. Jobs stop receiving a live context once ctx is done
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("failed to schedule catch-up job: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick()
	}()

	s.cron.Start()
	logger.Log.Info().Str("spec", s.spec).Msg("Billing scheduler started")
	return nil
}

// Stop cancels in-flight runs and waits for them to finish or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	cronDone := s.cron.Stop()
	initialDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(initialDone)
	}()

	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		logger.Log.Warn().Msg("Timed out waiting for scheduled runs to stop")
		return
	}
	select {
	case <-initialDone:
	case <-ctx.Done():
		logger.Log.Warn().Msg("Timed out waiting for the initial run to stop")
		return
	}
	logger.Log.Info().Msg("Billing scheduler stopped")
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	report, err := s.RunOnce(ctx, s.now())
	if err != nil && report == nil {
		logger.Log.Error().Err(err).Msg("Scheduled catch-up run failed")
		return
	}
	if report != nil && report.HasBacklog() {
		logger.Log.Warn().
			Int("subscriptions", len(report.BacklogRemaining)).
			Msg("Backlog remains after scheduled run")
	}
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
