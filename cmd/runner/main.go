// Command runner executes HCL workflow files in-process and prints each run's outcome.
//
//	runner [-policy priority] [-parallel 4] [-cpu 4] [-memory 8192] path...
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/crabzie/workflow-scheduler/config/logger"
	config "github.com/crabzie/workflow-scheduler/config/utils"
	hclLoader "github.com/crabzie/workflow-scheduler/internal/adapter/definition/hcl"
	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/service"
	"go.uber.org/zap"
)

func main() {
	policyFlag := flag.String("policy", "priority", "ready pool policy: fifo, priority, deadline, fair_share")
	parallel := flag.Int("parallel", 4, "global concurrency ceiling")
	cpu := flag.Float64("cpu", 4, "cpu capacity")
	memory := flag.Float64("memory", 8192, "memory capacity")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: runner [flags] path...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log, err := logger.New(&config.Logger{
		Level:         *level,
		Encoding:      "console",
		EncoderConfig: zap.NewDevelopmentEncoderConfig(),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	policy, err := domain.ParseSchedulePolicy(*policyFlag)
	if err != nil {
		log.Fatal("Invalid policy", zap.Error(err))
	}

	loader := hclLoader.NewLoader()
	var defs []domain.WorkflowDefinition
	for _, path := range flag.Args() {
		d, err := loader.LoadPath(path)
		if err != nil {
			log.Fatal("Failed to load workflows", zap.String("path", path), zap.Error(err))
		}
		defs = append(defs, d...)
	}

	pool := service.NewResourcePool(domain.Capacity{domain.ResourceCPU: *cpu, domain.ResourceMemory: *memory})
	worker := service.NewWorkerService(service.DefaultHandlers(), log.Named("Worker"))
	scheduler := service.NewTaskScheduler(pool, worker, service.SchedulerOptions{
		Policy:        policy,
		MaxConcurrent: *parallel,
	}, log.Named("Scheduler"), service.WithPredictor(service.NewHeuristicPredictor()))
	executor := service.NewWorkflowExecutor(scheduler, log.Named("Executor"))

	// every workflow shares the scheduler, so start them all before waiting
	runs := make([]*service.Run, 0, len(defs))
	failed := false
	for _, def := range defs {
		run, err := executor.Start(ctx, def)
		if err != nil {
			failed = true
		}
		runs = append(runs, run)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, run := range runs {
		res, err := run.Wait(ctx)
		var failure *domain.RunFailure
		if err != nil && !errors.As(err, &failure) {
			log.Error("Run interrupted", zap.String("run_id", run.ID()), zap.Error(err))
		}
		if res.Status != domain.RunStatusCompleted {
			failed = true
		}
		if err := enc.Encode(res); err != nil {
			log.Error("Failed to print result", zap.Error(err))
		}
	}

	worker.Wait()
	if failed {
		os.Exit(1)
	}
}
