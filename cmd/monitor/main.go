package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/crabzie/workflow-scheduler/config/logger"
	config "github.com/crabzie/workflow-scheduler/config/utils"
	"github.com/crabzie/workflow-scheduler/internal/adapter/queue/rabbitmq"
	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"go.uber.org/zap"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[37m"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	appConfig := config.New()
	log := logger.Build(appConfig.Logger)

	queue, err := rabbitmq.Dial(ctx, appConfig.RabbitMQ.URL, appConfig.RabbitMQ.Exchange, log.Named("AMQP"))
	if err != nil {
		log.Fatal("Failed to init RabbitMQ", zap.Error(err))
	}
	defer queue.Close()

	fmt.Println(colorCyan + "🚀 Workflow Activity Monitor Starting..." + colorReset)
	fmt.Println(colorGray + "Listening for lifecycle events on " + appConfig.RabbitMQ.Exchange + colorReset)
	fmt.Println("-------------------------------------------------------------------------")

	err = queue.ConsumeEvents(ctx, appConfig.RabbitMQ.Queue, "#", func(_ context.Context, ev domain.Event) error {
		fmt.Println(prettify(ev))
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Printf("Consumer exited: %v\n", err)
		os.Exit(1)
	}
}

func prettify(ev domain.Event) string {
	p := ev.Payload
	run := colorGray + shortID(p.RunID) + colorReset
	ts := ev.OccurredAt.Format("15:04:05.000")

	switch ev.Type {
	case domain.EventRunStarted:
		return fmt.Sprintf("%s [%s] ▶️  "+colorPurple+"Run started:"+colorReset+" %s", ts, run, p.WorkflowID)
	case domain.EventRunCompleted:
		return fmt.Sprintf("%s [%s] 🏁 "+colorGreen+"Run completed:"+colorReset+" %s", ts, run, p.WorkflowID)
	case domain.EventRunFailed:
		msg := fmt.Sprintf("%s [%s] ❌ "+colorRed+"Run failed:"+colorReset+" %s (%s)", ts, run, p.WorkflowID, p.Reason)
		if len(p.FailedTasks) > 0 {
			msg += " failed: " + strings.Join(p.FailedTasks, ", ")
		}
		return msg
	case domain.EventTaskSubmitted:
		return fmt.Sprintf("%s [%s] 📥 "+colorYellow+"Queued:"+colorReset+"       %s#%d", ts, run, p.TaskID, p.Attempt)
	case domain.EventTaskStarted:
		return fmt.Sprintf("%s [%s] ⚙️  "+colorBlue+"Now Running:"+colorReset+"  %s#%d", ts, run, p.TaskID, p.Attempt)
	case domain.EventTaskCompleted:
		return fmt.Sprintf("%s [%s] ✅ "+colorGreen+"Task Finished:"+colorReset+" %s", ts, run, p.TaskID)
	case domain.EventTaskFailed:
		return fmt.Sprintf("%s [%s] ❌ "+colorRed+"Task Failed:"+colorReset+"   %s (%s)", ts, run, p.TaskID, p.Reason)
	}
	return fmt.Sprintf("%s [%s] %s", ts, run, ev.Type)
}

// shortID keeps the random tail of a ulid, enough to tell concurrent runs apart
func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
