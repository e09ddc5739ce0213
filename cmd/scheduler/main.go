package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crabzie/workflow-scheduler/config/logger"
	postgres "github.com/crabzie/workflow-scheduler/config/storage/postgresql"
	redis "github.com/crabzie/workflow-scheduler/config/storage/redis"
	config "github.com/crabzie/workflow-scheduler/config/utils"
	"github.com/crabzie/workflow-scheduler/internal/adapter/eventbus"
	httpHandler "github.com/crabzie/workflow-scheduler/internal/adapter/handler/http"
	"github.com/crabzie/workflow-scheduler/internal/adapter/monitoring/prometheus"
	"github.com/crabzie/workflow-scheduler/internal/adapter/queue/rabbitmq"
	pgRepo "github.com/crabzie/workflow-scheduler/internal/adapter/storage/postgres"
	redisStore "github.com/crabzie/workflow-scheduler/internal/adapter/storage/redis"
	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	"github.com/crabzie/workflow-scheduler/internal/core/service"
	"go.uber.org/zap"
)

// _shutdownPeriod is time to wait before gracefully shutting server
// _readinessDrainDelay is time to sleep while context shutdown message propagate
const (
	_shutdownPeriod      = 10 * time.Second
	_readinessDrainDelay = 2 * time.Second
)

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// Init config
	appConfig := config.New()
	baseLogger := logger.Build(appConfig.Logger)
	zap.L().Debug("Logger Builded successfully")

	zap.L().Info("Starting the application", zap.String("app", appConfig.App.Name), zap.String("env", appConfig.App.Env), zap.String("owner", appConfig.App.Owner))

	// Metrics
	var metrics port.MetricsRecorder
	var recorder *prometheus.Recorder
	if appConfig.Metrics.Enabled {
		recorder = prometheus.NewRecorder(appConfig.Metrics.Namespace)
		metrics = recorder
	}

	// Event bus
	bus := eventbus.New(appConfig.Scheduler.EventBuffer, appConfig.Scheduler.SubscriberBuffer, metrics, baseLogger.Named("Events"))
	bus.Subscribe(domain.EventAll, eventbus.Log(baseLogger.Named("Events")))

	executorOpts := []service.ExecutorOption{
		service.WithExecutorEvents(bus),
		service.WithExecutorMetrics(metrics),
	}
	apiOpts := httpHandler.Options{}
	if recorder != nil {
		apiOpts.Metrics = recorder.Handler()
	}

	// Init database service
	if appConfig.DB.Enabled {
		dbLogger := baseLogger.Named("DB")
		dbService, err := postgres.New(rootCtx, appConfig.DB, dbLogger)
		if err != nil {
			zap.L().Error("Error initializing database connection", zap.Error(err))
			os.Exit(1)
		}
		defer dbService.Close()
		zap.L().Info("Successfully connected to the database",
			append([]zap.Field{zap.String("db", appConfig.DB.Connection)}, dbService.Stats()...)...)

		// Migrate database
		if err := dbService.Migrate(); err != nil {
			zap.L().Error("Error migrating database", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("Successfully migrated the database")

		history := pgRepo.NewRunRepository(dbService.Pool, *dbService.QueryBuilder, dbLogger)
		executorOpts = append(executorOpts, service.WithRunHistory(history))
		apiOpts.History = history
	}

	// Init cache service
	if appConfig.Redis.Enabled {
		cache, err := redis.New(rootCtx, appConfig.Redis)
		if err != nil {
			zap.L().Error("Error initializing cache connection", zap.Error(err))
			os.Exit(1)
		}
		defer cache.Close()
		zap.L().Info("Successfully connected to the cache server", zap.String("address", appConfig.Redis.Addr))

		store := redisStore.NewRunStore(cache.Client, appConfig.Redis.TTL, baseLogger.Named("Cache"))
		executorOpts = append(executorOpts, service.WithStatusStore(store))
		apiOpts.Store = store
	}

	// Init event broker
	if appConfig.RabbitMQ.Enabled {
		queue, err := rabbitmq.Dial(rootCtx, appConfig.RabbitMQ.URL, appConfig.RabbitMQ.Exchange, baseLogger.Named("AMQP"))
		if err != nil {
			zap.L().Error("Error initializing RabbitMQ connection", zap.Error(err))
			os.Exit(1)
		}
		defer queue.Close()
		bus.Subscribe(domain.EventAll, eventbus.Forward(queue))
		zap.L().Info("Forwarding lifecycle events", zap.String("exchange", appConfig.RabbitMQ.Exchange))
	}

	// Core
	policy, _ := appConfig.Scheduler.SchedulePolicy()
	capacity, _ := appConfig.Scheduler.PoolCapacity()
	pool := service.NewResourcePool(capacity)
	worker := service.NewWorkerService(service.DefaultHandlers(), baseLogger.Named("Worker"))

	schedulerOpts := []service.SchedulerOption{
		service.WithEventPublisher(bus),
		service.WithMetrics(metrics),
	}
	if appConfig.Scheduler.UsePredictor {
		schedulerOpts = append(schedulerOpts, service.WithPredictor(service.NewHeuristicPredictor()))
	}
	scheduler := service.NewTaskScheduler(pool, worker, service.SchedulerOptions{
		Policy:         policy,
		MaxConcurrent:  appConfig.Scheduler.MaxConcurrent,
		DefaultTimeout: appConfig.Scheduler.DefaultTimeout,
	}, baseLogger.Named("Scheduler"), schedulerOpts...)
	executorOpts = append(executorOpts, service.WithRunRetention(appConfig.Scheduler.RunRetention))
	executor := service.NewWorkflowExecutor(scheduler, baseLogger.Named("Executor"), executorOpts...)

	bus.Start(rootCtx)

	// HTTP
	handler := httpHandler.New(rootCtx, executor, scheduler, apiOpts, baseLogger.Named("Fiber"))
	app := handler.App(appConfig.HTTP.ReadTimeout, appConfig.HTTP.WriteTimeout)

	serverErr := make(chan error, 1)
	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", appConfig.HTTP.Addr()))
		serverErr <- app.Listen(appConfig.HTTP.Addr())
	}()

	// Wait for ctx cancelation
	select {
	case <-rootCtx.Done():
	case err := <-serverErr:
		if err != nil {
			zap.L().Error("HTTP server stopped", zap.Error(err))
		}
	}
	rootCtxCancel()

	// Wait for signal propagation
	time.Sleep(_readinessDrainDelay)
	zap.L().Info("Readiness check propagated, now waiting for ongoing requests to finish")

	if err := app.ShutdownWithTimeout(_shutdownPeriod); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		zap.L().Error("HTTP shutdown failed", zap.Error(err))
	}

	// Running tasks see their context cancelled and report back before the bus drains
	scheduler.Close()
	worker.Wait()
	bus.Stop()

	zap.L().Info("Graceful shutdown complete.")
}
