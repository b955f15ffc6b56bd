package models

import (
	"fmt"
	"time"
)

// Phase identifies a step of the automated investigation pipeline. The order
// of the declared phases is the expected progression.
type Phase string

const (
	PhaseDetection          Phase = "detection"
	PhaseLogAnalysis        Phase = "log_analysis"
	PhaseCommitCorrelation  Phase = "commit_correlation"
	PhaseResearch           Phase = "research"
	PhaseDiagnosis          Phase = "diagnosis"
	PhaseSolutionGeneration Phase = "solution_generation"
	PhaseExecution          Phase = "execution"
)

// EntryStatus is the progress state of a single timeline entry.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryInProgress EntryStatus = "in_progress"
	EntryCompleted  EntryStatus = "completed"
	EntryFailed     EntryStatus = "failed"
)

// TimelineEntry is a discrete step in the investigation timeline. Identity is
// stable across re-delivery; re-delivery replaces the stored entry.
type TimelineEntry struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Phase       Phase          `json:"phase"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      EntryStatus    `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate reports the first missing required field.
func (e TimelineEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("timeline entry: missing id")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timeline entry %s: missing timestamp", e.ID)
	}
	if e.Phase == "" {
		return fmt.Errorf("timeline entry %s: missing phase", e.ID)
	}
	return nil
}

// Level is a log severity level.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// LogEntry is one streamed or backfilled application log line. ID may be
// absent on older history records; the reconciler synthesizes one from the
// timestamp and batch position.
type LogEntry struct {
	ID        string         `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate reports the first missing required field. A missing ID is not an
// error; it is synthesized downstream.
func (e LogEntry) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("log entry: missing timestamp")
	}
	if e.Message == "" {
		return fmt.Errorf("log entry: missing message")
	}
	return nil
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Delivery tracks the local acknowledgment state of an optimistically
// appended message.
type Delivery string

const (
	DeliveryPending   Delivery = "pending"
	DeliveryConfirmed Delivery = "confirmed"
	DeliveryFailed    Delivery = "failed"
)

// ChatMessage is one entry of the agent conversation transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Phase     Phase     `json:"phase,omitempty"`
	Delivery  Delivery  `json:"delivery,omitempty"`
}

// Validate reports the first missing required field.
func (m ChatMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("chat message: missing id")
	}
	if m.Role == "" {
		return fmt.Errorf("chat message %s: missing role", m.ID)
	}
	if m.Content == "" {
		return fmt.Errorf("chat message %s: missing content", m.ID)
	}
	return nil
}
