package domain

import (
	"fmt"
	"strings"
)

type SchedulePolicy string

const (
	PolicyFIFO      SchedulePolicy = "fifo"
	PolicyPriority  SchedulePolicy = "priority"
	PolicyDeadline  SchedulePolicy = "deadline"
	PolicyFairShare SchedulePolicy = "fair_share"
)

// ParseSchedulePolicy parses a policy name such as "priority" or "FAIR_SHARE".
func ParseSchedulePolicy(s string) (SchedulePolicy, error) {
	p := SchedulePolicy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PolicyFIFO, PolicyPriority, PolicyDeadline, PolicyFairShare:
		return p, nil
	case "":
		return PolicyPriority, nil
	}
	return "", fmt.Errorf("unknown schedule policy %q", s)
}
