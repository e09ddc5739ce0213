package service

import (
	"fmt"
	"sync"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
)

// epsilon absorbs float rounding when summing fractional amounts.
const epsilon = 1e-9

// ResourcePool tracks granted amounts against a fixed capacity per resource type.
// A type missing from the capacity map has capacity zero.
type ResourcePool struct {
	mu        sync.Mutex
	capacity  domain.Capacity
	allocated domain.Capacity
}

// ResourceUsage is one row of a pool snapshot
type ResourceUsage struct {
	Type      domain.ResourceType `json:"type"`
	Allocated float64             `json:"allocated"`
	Capacity  float64             `json:"capacity"`
}

func NewResourcePool(capacity domain.Capacity) *ResourcePool {
	c := make(domain.Capacity, len(capacity))
	for t, amount := range capacity {
		c[t] = amount
	}
	return &ResourcePool{
		capacity:  c,
		allocated: make(domain.Capacity, len(c)),
	}
}

// Fits reports whether the requirements could be granted on an otherwise empty pool.
func (p *ResourcePool) Fits(reqs []domain.ResourceRequirement) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for t, amount := range domain.Totals(reqs) {
		if amount > p.capacity[t]+epsilon {
			return false
		}
	}
	return true
}

// TryAllocate grants every requirement or none of them. It never blocks.
func (p *ResourcePool) TryAllocate(reqs []domain.ResourceRequirement) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	totals := domain.Totals(reqs)
	for t, amount := range totals {
		if p.allocated[t]+amount > p.capacity[t]+epsilon {
			return false
		}
	}
	for t, amount := range totals {
		p.allocated[t] += amount
	}
	return true
}

// Release returns a previous allocation. Releasing more than is allocated is a scheduler bug
// and panics with domain.InvariantViolation.
func (p *ResourcePool) Release(reqs []domain.ResourceRequirement) {
	p.mu.Lock()
	defer p.mu.Unlock()

	totals := domain.Totals(reqs)
	for t, amount := range totals {
		if amount > p.allocated[t]+epsilon {
			panic(domain.InvariantViolation{Msg: fmt.Sprintf("release of %g %s exceeds allocation %g", amount, t, p.allocated[t])})
		}
	}
	for t, amount := range totals {
		p.allocated[t] -= amount
		if p.allocated[t] < epsilon {
			p.allocated[t] = 0
		}
	}
}

// Allocated returns the amount currently granted for a resource type.
func (p *ResourcePool) Allocated(t domain.ResourceType) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated[t]
}

// Snapshot returns usage for every configured resource type in a stable order.
func (p *ResourcePool) Snapshot() []ResourceUsage {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ResourceUsage, 0, len(p.capacity))
	for _, t := range domain.ResourceTypes {
		if c, ok := p.capacity[t]; ok {
			out = append(out, ResourceUsage{Type: t, Allocated: p.allocated[t], Capacity: c})
		}
	}
	return out
}
