package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/davidmoltin/leadflow/internal/api/rest"
	"github.com/davidmoltin/leadflow/internal/api/rest/handlers"
	"github.com/davidmoltin/leadflow/internal/api/rest/middleware"
	"github.com/davidmoltin/leadflow/internal/app"
	"github.com/davidmoltin/leadflow/internal/integrations/facebook"
	"github.com/davidmoltin/leadflow/internal/queue"
	"github.com/davidmoltin/leadflow/internal/repository/postgres"
	"github.com/davidmoltin/leadflow/internal/services"
	"github.com/davidmoltin/leadflow/internal/workers"
	"github.com/davidmoltin/leadflow/pkg/config"
	"github.com/davidmoltin/leadflow/pkg/database"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
)

// sweepStore joins the run, step and event queries the sweeper needs
type sweepStore struct {
	*postgres.ExecutionRepository
	*postgres.EventRepository
}

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting leadflow API",
		logger.String("version", cfg.App.Version),
		logger.String("environment", cfg.App.Environment),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	db, err := database.NewPostgresDB(cfg, log, m)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := migrateUp(cfg, log); err != nil {
			return err
		}
	}

	workflowRepo := postgres.NewWorkflowRepository(db)
	eventRepo := postgres.NewEventRepository(db)
	executionRepo := postgres.NewExecutionRepository(db)
	leadRepo := postgres.NewLeadRepository(db)
	facebookRepo := postgres.NewFacebookRepository(db)
	scheduleRepo := postgres.NewScheduleRepository(db)

	checks := map[string]handlers.HealthChecker{"database": db}

	var jobs queue.Queue
	switch cfg.Queue.Backend {
	case "memory":
		mq := queue.NewMemoryQueue(nil)
		defer mq.Close()
		jobs = mq
		log.Warn("Using the in-memory job queue; delayed jobs are recovered from the database by the sweeper")
	default:
		redis, err := database.NewRedisClient(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redis.Close()
		jobs = queue.NewRedisQueue(redis.Client, cfg.Redis.KeyPrefix, log)
		checks["redis"] = redis
	}

	notifications, err := services.NewNotificationService(&cfg.Notification, cfg.App.Name, log, m)
	if err != nil {
		return fmt.Errorf("failed to initialize notification service: %w", err)
	}
	graph := facebook.NewClient(cfg.Facebook.GraphURL, cfg.Facebook.GraphVersion, cfg.Facebook.Timeout, log, m)

	eng, err := app.NewEngine(app.Deps{
		Workflows:  workflowRepo,
		Events:     eventRepo,
		Executions: executionRepo,
		Leads:      leadRepo,
		Facebook:   facebookRepo,
		Schedules:  scheduleRepo,
		Graph:      graph,
		Sender:     notifications,
		Queue:      jobs,
		Logger:     log,
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	// Background workers
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	jobWorker := workers.NewJobWorker(jobs, eng.Router, eng.Executor, log.Named("jobs"), m, cfg.Queue.Workers, cfg.Queue.PollTimeout)
	sweeper := workers.NewDelaySweeper(sweepStore{executionRepo, eventRepo}, jobs, log.Named("sweeper"), m, workers.SweeperOptions{
		Interval:     cfg.Sweeper.Interval,
		EventGrace:   cfg.Sweeper.EventGrace,
		StepGrace:    cfg.Sweeper.StepGrace,
		StepTimeout:  cfg.Sweeper.StepTimeout,
		ClaimTimeout: cfg.Sweeper.ClaimTimeout,
		BatchSize:    cfg.Sweeper.BatchSize,
	})
	scheduler := workers.NewSchedulerWorker(eng.Schedules, eng.Router, log.Named("scheduler"), m, cfg.Scheduler.Interval)

	jobWorker.Start(workerCtx)
	sweeper.Start(workerCtx)
	scheduler.Start(workerCtx)

	limiter := middleware.NewRateLimiter(cfg.Webhook.RatePerSecond, cfg.Webhook.Burst, log)
	go limiter.Cleanup(workerCtx, 10*time.Minute)

	h := &handlers.Handlers{
		Health:    handlers.NewHealthHandler(log, cfg.App.Version, checks),
		Webhook:   handlers.NewWebhookHandler(log, eng.Capture, eng.Router, cfg.Facebook.VerifyToken, cfg.Facebook.AppSecret),
		Event:     handlers.NewEventHandler(log, eng.Router, eventRepo),
		Execution: handlers.NewExecutionHandler(log, eng.Executor, executionRepo),
		Workflow:  handlers.NewWorkflowHandler(log, workflowRepo, eng.Schedules),
		Lead:      handlers.NewLeadHandler(log, eng.Leads),
		Schedule:  handlers.NewScheduleHandler(log, eng.Schedules),
	}
	if cfg.Facebook.AppSecret == "" {
		log.Warn("facebook.app_secret is empty; Lead Ads deliveries are accepted unsigned")
	}

	router := rest.NewRouter(log, h, m, rest.Options{
		WebhookLimiter: limiter,
		Gatherer:       registry,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes(),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("API server listening", logger.String("address", addr))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", logger.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting webhooks before the workers drain
		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			log.Errorf("Graceful shutdown failed: %v", err)
		}

		scheduler.Stop()
		sweeper.Stop()
		jobWorker.Stop()

		log.Info("Server stopped gracefully")
	}

	return nil
}

func migrateUp(cfg *config.Config, log *logger.Logger) error {
	migrator, err := database.NewMigrator("postgres", cfg.DatabaseDSN(), log)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
