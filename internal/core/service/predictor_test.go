package service

import (
	"testing"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestHeuristicPredictor(t *testing.T) {
	p := NewHeuristicPredictor()

	tests := []struct {
		name     string
		features map[string]any
		duration time.Duration
		cpu      float64
	}{
		{"no features", nil, 12500 * time.Millisecond, 0.5},
		{"float complexity", map[string]any{"complexity": 4.0}, 20 * time.Second, 0.5},
		{"int complexity", map[string]any{"complexity": 2}, 15 * time.Second, 0.5},
		{"int64 complexity", map[string]any{"complexity": int64(20)}, time.Minute, 1},
		{"negative is clamped", map[string]any{"complexity": -3.0}, 10 * time.Second, 0.5},
		{"unknown type uses default", map[string]any{"complexity": "high"}, 12500 * time.Millisecond, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.duration, p.PredictDuration(tt.features))

			pred := p.Predict(tt.features)
			assert.Equal(t, time.Duration(float64(tt.duration)*1.5), pred.SuggestedTimeout)
			assert.Equal(t, domain.Capacity{domain.ResourceCPU: tt.cpu}, pred.SuggestedResourceCeiling)
		})
	}
}
