package main

import (
	"context"
	"time"

	"github.com/crabzie/workflow-scheduler/config/logger"
	postgresConfig "github.com/crabzie/workflow-scheduler/config/storage/postgresql"
	redisConfig "github.com/crabzie/workflow-scheduler/config/storage/redis"
	config "github.com/crabzie/workflow-scheduler/config/utils"
	"github.com/crabzie/workflow-scheduler/internal/adapter/monitoring/prometheus"
	"github.com/crabzie/workflow-scheduler/internal/adapter/queue/rabbitmq"
	"github.com/crabzie/workflow-scheduler/internal/adapter/storage/postgres"
	redisAdapter "github.com/crabzie/workflow-scheduler/internal/adapter/storage/redis"
	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// verification checks every configured sink with a synthetic run
func main() {
	// 1. Setup Logger & Config
	appConfig := config.New()
	log := logger.Build(appConfig.Logger)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Info("Starting Verification...")

	now := time.Now().UTC()
	run := domain.RunResult{
		RunID:      ulid.Make().String(),
		WorkflowID: "verification",
		Status:     domain.RunStatusCompleted,
		Tasks:      map[string]domain.TaskStatus{"ping": domain.TaskStatusCompleted},
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now,
	}

	// 2. Test Postgres
	log.Info("--- Testing Postgres ---")
	dbService, err := postgresConfig.New(ctx, appConfig.DB, log)
	if err != nil {
		log.Error("X Postgres: Connection Failed", zap.Error(err))
	} else {
		defer dbService.Close()
		log.Info("✓ Postgres: Connected", dbService.Stats()...)
		if err := dbService.Migrate(); err != nil {
			log.Error("X Postgres: Migration Failed", zap.Error(err))
		}
		repo := postgres.NewRunRepository(dbService.Pool, *dbService.QueryBuilder, log)
		if err := repo.SaveRun(ctx, run); err != nil {
			log.Error("X Postgres: Save Run Failed", zap.Error(err))
		} else {
			log.Info("✓ Postgres: Save Run Success")
		}
		if fetched, err := repo.GetRun(ctx, run.RunID); err != nil {
			log.Error("X Postgres: Get Run Failed", zap.Error(err))
		} else {
			log.Info("✓ Postgres: Get Run Success", zap.String("FetchedID", fetched.RunID))
		}
	}

	// 3. Test Redis
	log.Info("--- Testing Redis ---")
	cache, err := redisConfig.New(ctx, appConfig.Redis)
	if err != nil {
		log.Error("X Redis: Connection Failed", zap.Error(err))
	} else {
		defer cache.Close()
		store := redisAdapter.NewRunStore(cache.Client, time.Minute, log)
		if err := store.SaveRun(ctx, run); err != nil {
			log.Error("X Redis: Save Run Failed", zap.Error(err))
		} else {
			log.Info("✓ Redis: Save Run Success")
		}
		if fetched, err := store.GetRun(ctx, run.RunID); err != nil {
			log.Error("X Redis: Get Run Failed", zap.Error(err))
		} else {
			log.Info("✓ Redis: Get Run Success", zap.String("Status", string(fetched.Status)))
		}
	}

	// 4. Test RabbitMQ
	log.Info("--- Testing RabbitMQ ---")
	dialCtx, dialCancel := context.WithTimeout(ctx, 15*time.Second)
	defer dialCancel()
	queue, err := rabbitmq.Dial(dialCtx, appConfig.RabbitMQ.URL, appConfig.RabbitMQ.Exchange, log)
	if err != nil {
		log.Error("X RabbitMQ: Connection Failed", zap.Error(err))
	} else {
		defer queue.Close()
		ev := domain.Event{
			ID:         ulid.Make().String(),
			Type:       domain.EventRunCompleted,
			OccurredAt: now,
			Payload:    domain.EventPayload{WorkflowID: run.WorkflowID, RunID: run.RunID, Status: string(run.Status)},
		}
		if err := queue.PublishEvent(ctx, ev); err != nil {
			log.Error("X RabbitMQ: Publish Failed", zap.Error(err))
		} else {
			log.Info("✓ RabbitMQ: Publish Success")
		}
	}

	// 5. Test Prometheus
	log.Info("--- Testing Prometheus ---")
	recorder := prometheus.NewRecorder(appConfig.Metrics.Namespace)
	recorder.RunFinished(run.Status, run.FinishedAt.Sub(run.StartedAt))
	families, err := recorder.Registry().Gather()
	if err != nil {
		log.Warn("! Prometheus: Gather Failed", zap.Error(err))
	} else {
		log.Info("✓ Prometheus: Gather Success", zap.Int("Families", len(families)))
	}

	log.Info("Verification Complete.")
}
