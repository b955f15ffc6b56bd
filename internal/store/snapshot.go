package store

import (
	"github.com/outagex/outagex-sync/internal/models"
)

// Snapshot is a point-in-time copy of the full view, shaped for the JSON
// API.
type Snapshot struct {
	Incident    *models.Incident       `json:"incident"`
	Status      models.Status          `json:"status"`
	CanTrigger  bool                   `json:"can_trigger"`
	Timeline    []models.TimelineEntry `json:"timeline"`
	Logs        []models.LogEntry      `json:"logs"`
	Messages    []models.ChatMessage   `json:"messages"`
	AgentTyping bool                   `json:"agent_typing"`
	Solution    *models.Solution       `json:"solution"`
	Metrics     models.SystemMetrics   `json:"metrics"`
	Connected   bool                   `json:"connected"`
	ProjectID   string                 `json:"project_id"`
	Notice      string                 `json:"notice,omitempty"`
}

// View returns a consistent snapshot of every slice.
func (s *Store) View() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Incident:    s.machine.Current(),
		Status:      s.machine.Status(),
		CanTrigger:  s.machine.CanTrigger(),
		Timeline:    s.timeline.Snapshot(),
		Logs:        s.logs.Snapshot(),
		Messages:    s.chat.Snapshot(),
		AgentTyping: s.chat.Typing(),
		Solution:    s.solutionCopy(),
		Metrics:     s.sysMetrics,
		Connected:   s.connected,
		ProjectID:   s.projectID,
		Notice:      s.notice,
	}
}

// Incident returns a copy of the active incident, or nil when idle.
func (s *Store) Incident() *models.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.Current()
}

// Status returns the current lifecycle status.
func (s *Store) Status() models.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.Status()
}

// CanTrigger reports whether a new incident may be triggered.
func (s *Store) CanTrigger() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.CanTrigger()
}

// Logs returns a copy of the canonical log sequence.
func (s *Store) Logs() []models.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logs.Snapshot()
}

// Timeline returns a copy of the investigation timeline.
func (s *Store) Timeline() []models.TimelineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeline.Snapshot()
}

// Messages returns a copy of the chat transcript.
func (s *Store) Messages() []models.ChatMessage {
	return s.chat.Snapshot()
}

// AgentTyping reports the composing indicator.
func (s *Store) AgentTyping() bool {
	return s.chat.Typing()
}

// Solution returns a copy of the proposed remediation, or nil.
func (s *Store) Solution() *models.Solution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.solutionCopy()
}

// Metrics returns the current system gauges.
func (s *Store) Metrics() models.SystemMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sysMetrics
}

// Connected reports upstream connectivity.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ProjectID returns the selected monitored target.
func (s *Store) ProjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectID
}

// Notice returns the transient user-visible notice, empty when none.
func (s *Store) Notice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notice
}

// solutionCopy assumes at least a read lock is held.
func (s *Store) solutionCopy() *models.Solution {
	if s.solution == nil {
		return nil
	}
	copied := *s.solution
	return &copied
}
