package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	simulationDuration = 5 * time.Minute
	injectionInterval  = 5 * time.Second
)

type resource struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

type task struct {
	ID        string         `json:"id"`
	Priority  int            `json:"priority"`
	Handler   string         `json:"handler"`
	Group     string         `json:"group,omitempty"`
	Features  map[string]any `json:"features,omitempty"`
	Resources []resource     `json:"resources,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
	Retries   int            `json:"retries,omitempty"`
}

type workflow struct {
	ID               string `json:"id"`
	Strategy         string `json:"strategy"`
	MaxParallelTasks int    `json:"max_parallel_tasks"`
	Tasks            []task `json:"tasks"`
}

type runStatus struct {
	RunID       string   `json:"run_id"`
	WorkflowID  string   `json:"workflow_id"`
	Status      string   `json:"status"`
	FailedTasks []string `json:"failed_tasks"`
}

var strategies = []string{"EAGER", "PRIORITY", "BATCH", "LAZY"}
var groups = []string{"analytics", "billing", "ingest"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "scheduler API")
	duration := flag.Duration("duration", simulationDuration, "how long to inject workflows")
	flag.Parse()

	fmt.Println("🚀 Starting Traffic Simulation against", *baseURL)

	endTime := time.Now().Add(*duration)
	ticker := time.NewTicker(injectionInterval)
	defer ticker.Stop()

	var pending []string
	workflowCount := 0

	for range ticker.C {
		pending = poll(*baseURL, pending)
		if time.Now().After(endTime) {
			if len(pending) == 0 {
				fmt.Println("\n✅ Simulation Complete.")
				return
			}
			continue
		}

		// Generate a batch of workflows
		batchSize := rand.Intn(3) + 1 // 1-3 workflows
		fmt.Printf("\n[Generator] Injecting %d new workflows...\n", batchSize)
		for i := 0; i < batchSize; i++ {
			workflowCount++
			wf := randomWorkflow(fmt.Sprintf("sim-wf-%d", workflowCount))

			var accepted struct {
				RunID string `json:"run_id"`
				Error string `json:"error"`
			}
			code, _, errs := fiber.Post(*baseURL + "/api/v1/workflows").JSON(wf).Struct(&accepted)
			if len(errs) > 0 {
				log.Printf("Failed to submit %s: %v", wf.ID, errs[0])
				continue
			}
			if code != fiber.StatusAccepted {
				log.Printf("Workflow %s rejected (%d): %s", wf.ID, code, accepted.Error)
				continue
			}
			fmt.Printf("   📤 %s (%s, %d tasks) -> run %s\n", wf.ID, wf.Strategy, len(wf.Tasks), accepted.RunID)
			pending = append(pending, accepted.RunID)
		}
	}
}

// randomWorkflow builds a layered DAG; each task depends on up to two tasks of earlier layers
func randomWorkflow(id string) workflow {
	wf := workflow{
		ID:               id,
		Strategy:         strategies[rand.Intn(len(strategies))],
		MaxParallelTasks: rand.Intn(3) + 1,
	}
	n := rand.Intn(8) + 3
	for i := 0; i < n; i++ {
		t := task{
			ID:       fmt.Sprintf("t%d", i),
			Priority: rand.Intn(10), // 0-9
			Handler:  "sleep",
			Group:    groups[rand.Intn(len(groups))],
			Features: map[string]any{
				"duration":   fmt.Sprintf("%dms", 200+rand.Intn(1800)),
				"complexity": rand.Intn(5),
			},
		}

		// Simulate "Tight" constraints randomly
		r := rand.Float64()
		switch {
		case r < 0.3:
			t.Resources = []resource{{Type: "cpu", Amount: 1.0 + rand.Float64()}, {Type: "memory", Amount: 256}}
		case r < 0.6:
			t.Resources = []resource{{Type: "cpu", Amount: 0.5}, {Type: "memory", Amount: 1024 + rand.Float64()*1024}}
		case r < 0.9:
			t.Resources = []resource{{Type: "cpu", Amount: 0.1}, {Type: "memory", Amount: 128}}
		default:
			// left to the predictor
		}
		if rand.Float64() < 0.05 {
			t.Handler = "fail"
			t.Retries = rand.Intn(2)
		}

		for d := 0; d < 2 && i > 0; d++ {
			dep := fmt.Sprintf("t%d", rand.Intn(i))
			if !contains(t.DependsOn, dep) {
				t.DependsOn = append(t.DependsOn, dep)
			}
		}
		wf.Tasks = append(wf.Tasks, t)
	}
	return wf
}

// poll prints finished runs and returns the ones still running
func poll(baseURL string, runIDs []string) []string {
	var still []string
	for _, id := range runIDs {
		var st runStatus
		code, _, errs := fiber.Get(baseURL + "/api/v1/runs/" + id).Struct(&st)
		if len(errs) > 0 || code != fiber.StatusOK {
			still = append(still, id)
			continue
		}
		switch st.Status {
		case "COMPLETED":
			fmt.Printf("   ✅ %s run %s completed\n", st.WorkflowID, id)
		case "FAILED":
			fmt.Printf("   ❌ %s run %s failed %v\n", st.WorkflowID, id, st.FailedTasks)
		default:
			still = append(still, id)
		}
	}
	return still
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
