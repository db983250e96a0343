package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/timesheet-sync/internal/config"
	"github.com/benvon/timesheet-sync/internal/database"
	"github.com/benvon/timesheet-sync/internal/handlers"
	"github.com/benvon/timesheet-sync/internal/logger"
	"github.com/benvon/timesheet-sync/internal/mapping"
	"github.com/benvon/timesheet-sync/internal/notify"
	"github.com/benvon/timesheet-sync/internal/queue"
	"github.com/benvon/timesheet-sync/internal/store"
	"github.com/benvon/timesheet-sync/internal/telemetry"
	"github.com/benvon/timesheet-sync/internal/tickets"
	"github.com/benvon/timesheet-sync/internal/timesheet"
	"github.com/benvon/timesheet-sync/internal/workers"
	"go.uber.org/zap"
)

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	nowFlag := flag.Bool("now", false, "Process the pending queue immediately after startup")
	syncFlag := flag.Bool("sync", false, "Ingest the backlog immediately after startup")
	backlogDays := flag.Int("backlog-days", 0, "Days covered by --sync (defaults to BACKLOG_DAYS)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.RequireRecordSystem(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.RequireTimesheet(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	debugMode := cfg.WorkerDebugMode || *debugFlag
	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	loc := cfg.Location()
	zapLogger.Info("worker_starting",
		zap.Bool("debug_mode", debugMode),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("timezone", loc.String()),
		zap.Bool("telegram_enabled", cfg.TelegramEnabled()),
		zap.Bool("intake_enabled", cfg.RabbitMQURL != ""),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else if tp, err := telemetry.InitTracer(ctx, "", "worker", cfg.OTELEndpoint); err != nil {
			zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		} else {
			zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
					zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
				}
			}()
		}
	}

	queueStore, err := openStore(ctx, cfg)
	if err != nil {
		zapLogger.Fatal("failed_to_open_queue_store", zap.Error(err))
	}
	defer func() {
		if err := queueStore.Close(); err != nil {
			zapLogger.Warn("failed_to_close_queue_store", zap.Error(err))
		}
	}()
	zapLogger.Info("queue_store_ready", zap.String("backend", cfg.StoreBackend))

	source, err := tickets.NewSource(tickets.Config{
		Host:       cfg.GLPIHost,
		Port:       cfg.GLPIPort,
		User:       cfg.GLPIUser,
		Password:   cfg.GLPIPassword,
		Name:       cfg.GLPIName,
		UserEmail:  cfg.GLPIUserEmail,
		SLAGroupID: cfg.GLPISLAGroupID,
		Location:   loc,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_open_ticket_source", zap.Error(err))
	}
	defer func() {
		if err := source.Close(); err != nil {
			zapLogger.Warn("failed_to_close_ticket_source", zap.Error(err))
		}
	}()

	channel := timesheet.NewClient(timesheet.Config{
		BaseURL:  cfg.TimesheetURL,
		APIToken: cfg.TimesheetAPIToken,
		Timeout:  cfg.TimesheetTimeout,
	}, zapLogger)

	notifiers := notify.Multi{notify.NewLogNotifier(zapLogger)}
	if cfg.TelegramEnabled() {
		notifiers = append(notifiers, notify.NewTelegram(cfg.TelegramAPIURL, cfg.TelegramBotToken, cfg.TelegramChatID, zapLogger))
	}

	opts := workers.Options{MaxFailures: cfg.MaxFailures, Logger: zapLogger}
	if cfg.MappingsFile != "" {
		rules, err := mapping.Load(cfg.MappingsFile)
		if err != nil {
			zapLogger.Fatal("failed_to_load_mappings", zap.String("path", cfg.MappingsFile), zap.Error(err))
		}
		opts.Enricher = rules
		zapLogger.Info("mappings_loaded", zap.String("path", cfg.MappingsFile))
	}

	processor := workers.NewProcessor(queueStore, source, channel, notifiers, workers.PlanSettings{
		Work:          cfg.WorkWindow(),
		Lunch:         cfg.LunchWindow(),
		TargetMinutes: cfg.TargetMinutes(),
		Split:         cfg.SplitPolicy(),
		Location:      loc,
	}, opts)

	checks := []handlers.DependencyCheck{
		{Name: "queue_store", Check: queueStore.Ping},
		{Name: "ticket_system", Check: source.Ping},
	}

	if cfg.RabbitMQURL != "" {
		jobQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL, zapLogger)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_rabbitmq", zap.Error(err))
		}
		defer func() {
			if err := jobQueue.Close(); err != nil {
				zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
			}
		}()
		checks = append(checks, handlers.DependencyCheck{Name: "intake_queue", Check: jobQueue.HealthCheck})

		consumer := workers.NewIntakeConsumer(processor, jobQueue, zapLogger)
		go func() {
			if err := consumer.Run(ctx, cfg.RabbitMQPrefetch); err != nil && !errors.Is(err, context.Canceled) {
				zapLogger.Error("intake_consumer_stopped", zap.Error(err))
			}
		}()

		sweeper := queue.NewDeadLetterSweeper(jobQueue, cfg.DLQGCInterval, cfg.DLQRetention, zapLogger)
		sweeper.OnPurged = func(ctx context.Context, discarded int, retention time.Duration) {
			notifiers.Notify(ctx, fmt.Sprintf("Discarded %d dead-lettered intake job(s) older than %s.", discarded, retention))
		}
		go func() {
			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zapLogger.Error("dead_letter_sweeper_stopped", zap.Error(err))
			}
		}()
		zapLogger.Info("intake_consumer_started", zap.Int("prefetch", cfg.RabbitMQPrefetch))
	}

	scheduler := workers.NewScheduler(loc, zapLogger)
	if err := registerJobs(scheduler, cfg, processor, source, notifiers, zapLogger); err != nil {
		zapLogger.Fatal("failed_to_register_schedules", zap.Error(err))
	}

	router, err := handlers.NewRouter(handlers.RouterConfig{
		Control:     handlers.NewControlHandler(processor, queueStore, zapLogger),
		Health:      handlers.NewHealthChecker(checks...),
		Logger:      zapLogger,
		ServiceName: otelServiceName(cfg),
		TriggerRate: cfg.ControlRateLimit,
	})
	if err != nil {
		zapLogger.Fatal("failed_to_build_router", zap.Error(err))
	}
	srv := &http.Server{
		Addr:              ":" + cfg.ControlPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	go func() {
		zapLogger.Info("control_api_listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("control_api_failed", zap.Error(err))
			stop()
		}
	}()

	runStartup(ctx, processor, cfg, *syncFlag, *backlogDays, *nowFlag, zapLogger)

	scheduler.Start(ctx)
	zapLogger.Info("worker_started")

	<-ctx.Done()
	zapLogger.Info("shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("control_api_forced_to_shutdown", zap.Error(err))
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		zapLogger.Warn("scheduled_runs_still_running_at_shutdown")
	}

	zapLogger.Info("worker_stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.QueueStore, error) {
	if cfg.StoreBackend == config.StoreRedis {
		return store.NewRedisStore(cfg.RedisURL, cfg.RedisKeyPrefix)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return database.NewQueueRepository(db), nil
}

func registerJobs(s *workers.Scheduler, cfg *config.Config, p *workers.Processor, source *tickets.Source, n notify.Notifier, zapLogger *zap.Logger) error {
	if err := s.Register("ingest", cfg.IngestSchedule, func(ctx context.Context) error {
		_, err := p.IngestToday(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := s.Register("process", cfg.ProcessSchedule, func(ctx context.Context) error {
		_, err := p.ProcessBatch(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := s.Register("backlog", cfg.BacklogSchedule, func(ctx context.Context) error {
		_, err := p.IngestBacklog(ctx, cfg.BacklogDays)
		return err
	}); err != nil {
		return err
	}
	if cfg.GLPISLAGroupID > 0 {
		reporter := workers.NewSLAReporter(source, n, zapLogger)
		if err := s.Register("sla", cfg.SLASchedule, reporter.Report); err != nil {
			return err
		}
	}
	return nil
}

// runStartup performs the initial ingestion and the runs requested by flags.
// Failures are logged and notified by the processor; the worker keeps running.
func runStartup(ctx context.Context, p *workers.Processor, cfg *config.Config, syncBacklog bool, backlogDays int, processNow bool, zapLogger *zap.Logger) {
	if summary, err := p.IngestToday(ctx); err != nil {
		zapLogger.Warn("startup_ingest_failed", zap.Error(err))
	} else {
		zapLogger.Info("startup_ingest_completed", zap.Int("queued", summary.Queued), zap.Int("fetched", summary.Fetched))
	}

	if syncBacklog {
		days := backlogDays
		if days <= 0 {
			days = cfg.BacklogDays
		}
		if summary, err := p.IngestBacklog(ctx, days); err != nil {
			zapLogger.Warn("startup_backlog_failed", zap.Int("days", days), zap.Error(err))
		} else {
			zapLogger.Info("startup_backlog_completed", zap.Int("days", days), zap.Int("queued", summary.Queued))
		}
	}

	if processNow {
		if summary, err := p.ProcessBatch(ctx); err != nil {
			zapLogger.Warn("startup_process_failed", zap.Error(err))
		} else {
			zapLogger.Info("startup_process_completed", zap.Int("processed", summary.Processed), zap.Int("remaining", summary.Remaining))
		}
	}
}

func otelServiceName(cfg *config.Config) string {
	if cfg.OTELEnabled && cfg.OTELEndpoint != "" {
		return telemetry.DefaultServiceName
	}
	return ""
}
