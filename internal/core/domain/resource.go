package domain

import (
	"fmt"
	"strings"
)

type ResourceType string

const (
	ResourceCPU     ResourceType = "cpu"
	ResourceMemory  ResourceType = "memory"
	ResourceStorage ResourceType = "storage"
	ResourceNetwork ResourceType = "network"
)

// ResourceTypes lists every known resource type in a stable order.
var ResourceTypes = []ResourceType{ResourceCPU, ResourceMemory, ResourceStorage, ResourceNetwork}

// ParseResourceType accepts the lowercase or uppercase name of a resource type
func ParseResourceType(s string) (ResourceType, error) {
	t := ResourceType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ResourceTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

// ResourceRequirement is an amount of one resource a task holds while running
type ResourceRequirement struct {
	Type   ResourceType `json:"type"`
	Amount float64      `json:"amount"`
	Unit   string       `json:"unit,omitempty"`
}

// Capacity maps each resource type to a total amount
type Capacity map[ResourceType]float64

// Totals sums requirements per resource type.
func Totals(reqs []ResourceRequirement) Capacity {
	out := make(Capacity, len(reqs))
	for _, r := range reqs {
		out[r.Type] += r.Amount
	}
	return out
}
