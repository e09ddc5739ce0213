package service

import (
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
)

// HeuristicPredictor estimates task duration from a "complexity" feature with a linear model.
type HeuristicPredictor struct {
	Base          time.Duration
	PerComplexity time.Duration
	TimeoutFactor float64
}

func NewHeuristicPredictor() *HeuristicPredictor {
	return &HeuristicPredictor{
		Base:          10 * time.Second,
		PerComplexity: 2500 * time.Millisecond,
		TimeoutFactor: 1.5,
	}
}

// PredictDuration returns Base + complexity * PerComplexity. Complexity defaults to 1.
func (p *HeuristicPredictor) PredictDuration(features map[string]any) time.Duration {
	complexity := 1.0
	switch c := features["complexity"].(type) {
	case float64:
		complexity = c
	case int:
		complexity = float64(c)
	case int64:
		complexity = float64(c)
	}
	if complexity < 0 {
		complexity = 0
	}
	return p.Base + time.Duration(complexity*float64(p.PerComplexity))
}

// Predict implements port.Predictor. Short tasks get half a CPU, anything a minute or longer a full one.
func (p *HeuristicPredictor) Predict(features map[string]any) domain.Prediction {
	d := p.PredictDuration(features)
	cpu := 1.0
	if d < time.Minute {
		cpu = 0.5
	}
	return domain.Prediction{
		SuggestedTimeout:         time.Duration(float64(d) * p.TimeoutFactor),
		SuggestedResourceCeiling: domain.Capacity{domain.ResourceCPU: cpu},
	}
}
