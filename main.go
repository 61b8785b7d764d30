// Package main is the entry point for the subscription billing engine.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gitlab.com/yelinaung/subscription-engine/internal/api"
	"gitlab.com/yelinaung/subscription-engine/internal/billing"
	"gitlab.com/yelinaung/subscription-engine/internal/config"
	"gitlab.com/yelinaung/subscription-engine/internal/database"
	"gitlab.com/yelinaung/subscription-engine/internal/logger"
	"gitlab.com/yelinaung/subscription-engine/internal/repository"
	"gitlab.com/yelinaung/subscription-engine/internal/scheduler"
	"gitlab.com/yelinaung/subscription-engine/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

const usage = `usage: subscription-engine [command]

commands:
  serve                      run the API and the billing scheduler (default)
  catchup [--as-of DATE]     run one catch-up pass and print the report
  migrate                    apply database migrations and seed categories
  version                    print build information
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	if cmd == "version" {
		fmt.Printf("subscription-engine %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	logger.InitHashSalt()

	switch cmd {
	case "serve":
		err = serve(ctx, cfg)
	case "catchup":
		err = catchup(ctx, cfg, args)
	case "migrate":
		err = migrate(ctx, cfg)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Log.Fatal().Err(err).Str("command", cmd).Msg("Command failed")
	}
}

type engineStore interface {
	billing.Store
	billing.CategoryStore
	api.SubscriptionReader
	api.SubscriptionEditor
}

type runStore interface {
	scheduler.RunStore
	api.RunLister
}

// backend is the storage selected by STORE.
type backend struct {
	store  engineStore
	runs   runStore
	health func(context.Context) error
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Store == config.StoreMemory {
		mem := repository.NewMemoryStore()
		for _, name := range database.DefaultCategories {
			mem.AddCategory(name, nil)
		}
		logger.Log.Warn().Msg("Using in-memory store, data is lost on exit")
		return &backend{store: mem, runs: mem, close: func() {}}, nil
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := database.SeedCategories(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to seed categories: %w", err)
	}
	logger.Log.Info().Msg("Database initialized successfully")

	return &backend{
		store:  repository.NewBillingStore(pool),
		runs:   repository.NewRunRepository(pool),
		health: pool.Ping,
		close:  pool.Close,
	}, nil
}

func billingSettings(cfg *config.Config) billing.Settings {
	return billing.Settings{
		MaxPeriods:  cfg.BillingMaxPeriods,
		Workers:     cfg.BillingWorkers,
		UnitTimeout: cfg.BillingUnitTimeout,
		Location:    cfg.Location(),
	}
}

func newScheduler(cfg *config.Config, b *backend, engine *billing.Engine) (*scheduler.Scheduler, error) {
	return scheduler.New(engine.Runner, b.runs, scheduler.Options{
		Spec:       cfg.BillingCron,
		Location:   cfg.Location(),
		RunTimeout: cfg.BillingRunTimeout,
	})
}

func serve(ctx context.Context, cfg *config.Config) error {
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.OTelExporter, cfg.OTelServiceName)
	if err != nil {
		return err
	}
	defer flushTelemetry(shutdownTelemetry)

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	engine := billing.New(b.store, b.store, billingSettings(cfg))
	sched, err := newScheduler(cfg, b, engine)
	if err != nil {
		return err
	}

	handler := api.NewHandler(api.Deps{
		Creator:       engine.Creator,
		Subscriptions: b.store,
		Editor:        b.store,
		Trigger:       sched,
		Runs:          b.runs,
		Location:      cfg.Location(),
		Health:        b.health,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler, cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Log.Info().Msg("Shutting down...")
	case err = <-serveErr:
		logger.Log.Error().Err(err).Msg("HTTP server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Log.Error().Err(shutdownErr).Msg("Failed to shut down HTTP server")
	}
	sched.Stop(shutdownCtx)

	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func catchup(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("catchup", flag.ContinueOnError)
	asOfFlag := fs.String("as-of", "", "billing date to catch up to (YYYY-MM-DD, default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	asOf := time.Now()
	if *asOfFlag != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, *asOfFlag, cfg.Location())
		if err != nil {
			return fmt.Errorf("invalid --as-of %q: %w", *asOfFlag, err)
		}
		asOf = parsed
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.OTelExporter, cfg.OTelServiceName)
	if err != nil {
		return err
	}
	defer flushTelemetry(shutdownTelemetry)

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	engine := billing.New(b.store, b.store, billingSettings(cfg))
	sched, err := newScheduler(cfg, b, engine)
	if err != nil {
		return err
	}

	report, err := sched.RunOnce(ctx, asOf)
	if report == nil {
		return err
	}

	out, encErr := json.MarshalIndent(report, "", "  ")
	if encErr != nil {
		return fmt.Errorf("failed to encode report: %w", encErr)
	}
	fmt.Println(string(out))
	return err
}

func migrate(ctx context.Context, cfg *config.Config) error {
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("migrate requires STORE=%s", config.StorePostgres)
	}
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	b.close()
	logger.Log.Info().Msg("Migrations applied")
	return nil
}

func flushTelemetry(shutdown telemetry.Shutdown) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to flush telemetry")
	}
}
