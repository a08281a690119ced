package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/coaching-scheduler/internal/application"
	"github.com/example/coaching-scheduler/internal/calendarsync"
	"github.com/example/coaching-scheduler/internal/conferencing"
	"github.com/example/coaching-scheduler/internal/config"
	httptransport "github.com/example/coaching-scheduler/internal/http"
	"github.com/example/coaching-scheduler/internal/logging"
	"github.com/example/coaching-scheduler/internal/metrics"
	"github.com/example/coaching-scheduler/internal/notify"
	"github.com/example/coaching-scheduler/internal/persistence"
	"github.com/example/coaching-scheduler/internal/persistence/memory"
	"github.com/example/coaching-scheduler/internal/persistence/sqlstore"
	"github.com/example/coaching-scheduler/internal/tasks"
	"github.com/example/coaching-scheduler/internal/tracing"
)

const serviceName = "coaching-scheduler"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("scheduler exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closePublisher(); cerr != nil {
			logger.Error("failed to close publisher", "error", cerr)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(registry)

	app, err := wire(cfg, store, publisher, recorder, logger, time.Now)
	if err != nil {
		return err
	}

	if err := app.dispatcher.Start(ctx); err != nil {
		return err
	}
	defer app.dispatcher.Stop()

	handler := app.router(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), healthCheck(store))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("scheduler API listening",
		"addr", server.Addr,
		"storage", cfg.StorageDriver,
		"reference_timezone", cfg.ReferenceTimezone,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// services groups the wired components so the binary and its tests share one
// composition root.
type services struct {
	meetings     *application.MeetingService
	availability *application.AvailabilityService
	ledger       *application.CreditLedger
	feeds        *application.CalendarFeedService
	dispatcher   *tasks.Dispatcher
	recorder     *metrics.Metrics
	logger       *slog.Logger
}

func wire(cfg config.Config, store persistence.Store, publisher notify.Publisher, recorder *metrics.Metrics, logger *slog.Logger, now func() time.Time) (*services, error) {
	provisioner, err := conferencing.NewDerivedProvisioner(cfg.VideoBaseURL, cfg.VideoSecret)
	if err != nil {
		return nil, err
	}

	idGenerator := uuid.NewString
	location := cfg.ReferenceLocation
	if location == nil {
		location = time.UTC
	}

	dispatcher := tasks.NewDispatcher(store, tasks.Config{
		Schedule:       cfg.OutboxSchedule,
		BatchSize:      cfg.OutboxBatchSize,
		MaxAttempts:    cfg.OutboxMaxAttempts,
		Lease:          cfg.OutboxLease,
		HandlerTimeout: cfg.CollaboratorTimeout,
	}, logger, now)
	dispatcher.SetRecorder(recorder)
	cache := application.NewMonthCache(cfg.CacheSize, cfg.CacheTTL, location)
	cache.SetRecorder(recorder)
	dispatcher.Register(tasks.KindVideoLink, application.NewVideoLinkHandler(store, provisioner, cache, now, logger))
	dispatcher.Register(tasks.KindCalendarPush, application.NewCalendarPushHandler(publisher))

	ledger := application.NewCreditLedgerWithLogger(store, idGenerator, now, logger)
	ledger.SetRecorder(recorder)
	availability := application.NewAvailabilityServiceWithLogger(store, idGenerator, now, location, logger)

	meetings := application.NewMeetingService(store, idGenerator, now, application.MeetingServiceOptions{
		Ledger:       ledger,
		Availability: availability,
		Negotiator:   application.NewRescheduleServiceWithLogger(store, idGenerator, now, logger),
		BusySource:   calendarsync.NewFeedSource(store, cfg.CalendarFetchTimeout),
		Tasks:        tasks.NewQueue(store, dispatcher, idGenerator, now),
		Cache:        cache,
		Recorder:     recorder,
		Location:     location,
		Logger:       logger,
	})

	return &services{
		meetings:     meetings,
		availability: availability,
		ledger:       ledger,
		feeds:        application.NewCalendarFeedService(store, now, logger),
		dispatcher:   dispatcher,
		recorder:     recorder,
		logger:       logger,
	}, nil
}

func (a *services) router(metricsHandler http.Handler, health httptransport.HealthCheck) http.Handler {
	return httptransport.NewRouter(httptransport.RouterConfig{
		Meetings:       httptransport.NewMeetingHandler(a.meetings, a.logger),
		Reschedules:    httptransport.NewRescheduleHandler(a.meetings, a.logger),
		Availability:   httptransport.NewAvailabilityHandler(a.availability, a.logger),
		Credits:        httptransport.NewCreditHandler(a.ledger, a.logger),
		CalendarFeeds:  httptransport.NewCalendarFeedHandler(a.feeds, a.logger),
		Health:         health,
		MetricsHandler: metricsHandler,
		Recorder:       a.recorder,
		Logger:         a.logger,
	})
}

func openStore(ctx context.Context, cfg config.Config) (persistence.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory, "":
		return memory.New(), nil
	case config.DriverSQLite:
		return sqlstore.Open(ctx, sqlstore.DriverSQLite, cfg.DatabaseDSN)
	case config.DriverPostgres:
		return sqlstore.Open(ctx, sqlstore.DriverPostgres, cfg.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// newPublisher connects to NATS when configured and otherwise logs events.
func newPublisher(cfg config.Config, logger *slog.Logger) (notify.Publisher, func() error, error) {
	if cfg.NATSURL == "" {
		return notify.LogPublisher{Logger: logger}, func() error { return nil }, nil
	}
	publisher, err := notify.NewNatsPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("publishing calendar events to NATS", "url", cfg.NATSURL, "subject_prefix", cfg.NATSSubjectPrefix)
	return publisher, publisher.Close, nil
}

func healthCheck(store persistence.Store) httptransport.HealthCheck {
	pinger, ok := store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return pinger.Ping(ctx)
	}
}
