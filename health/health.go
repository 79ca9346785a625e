// Package health reports whether a burrow client is connected and its
// consumers are still running.
package health

import (
	"context"
	"time"
)

// Status is the outcome of one check
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the result of one Checker
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
}

// Checker checks one component
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Report aggregates check results. Status is the worst status reported.
type Report struct {
	Status    Status        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// Check runs every checker in order
func Check(ctx context.Context, checkers ...Checker) Report {
	report := Report{
		Status:    StatusHealthy,
		Checks:    make([]CheckResult, 0, len(checkers)),
		Timestamp: time.Now(),
	}

	for _, checker := range checkers {
		result := checker.Check(ctx)
		report.Checks = append(report.Checks, result)
		if severity(result.Status) > severity(report.Status) {
			report.Status = result.Status
		}
	}

	return report
}

func severity(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}
