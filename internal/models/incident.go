package models

import (
	"fmt"
	"time"
)

// Severity captures incident impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status enumerates the incident lifecycle states driven by the upstream
// response pipeline.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusDetecting   Status = "detecting"
	StatusAnalyzing   Status = "analyzing"
	StatusResearching Status = "researching"
	StatusDiagnosing  Status = "diagnosing"
	StatusProposing   Status = "proposing"
	StatusExecuting   Status = "executing"
	StatusResolved    Status = "resolved"
	StatusFailed      Status = "failed"
)

// IsTerminal reports whether the status ends an incident's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusFailed
}

// Valid reports whether the status is one of the declared lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusDetecting, StatusAnalyzing, StatusResearching,
		StatusDiagnosing, StatusProposing, StatusExecuting, StatusResolved, StatusFailed:
		return true
	}
	return false
}

// Incident is a tracked production problem with a lifecycle status. At most
// one incident is active at a time; a new detection replaces the prior one
// only once the prior is terminal.
type Incident struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Severity         Severity   `json:"severity"`
	Status           Status     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	AffectedServices []string   `json:"affected_services,omitempty"`
}

// Validate reports the first missing required field.
func (i Incident) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("incident: missing id")
	}
	if i.Title == "" {
		return fmt.Errorf("incident %s: missing title", i.ID)
	}
	if i.StartedAt.IsZero() {
		return fmt.Errorf("incident %s: missing started_at", i.ID)
	}
	return nil
}

// Solution is a proposed remediation produced by the analysis pipeline.
type Solution struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Details   string    `json:"details,omitempty"`
	RootCause string    `json:"root_cause,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SystemMetrics holds last-write-wins scalar gauges for the monitored target.
type SystemMetrics struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	ErrorRatePercent float64 `json:"error_rate_percent"`
	RequestRate      float64 `json:"request_rate"`
	LatencyMS        float64 `json:"latency_ms"`
}
