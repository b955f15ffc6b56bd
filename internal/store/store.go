// Package store owns the process-wide view of the incident-response
// pipeline. It is the single writer-serialized container all display
// surfaces read from; transport, backfill, and API intents mutate it only
// through its methods.
package store

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/outagex/outagex-sync/internal/chat"
	"github.com/outagex/outagex-sync/internal/lifecycle"
	"github.com/outagex/outagex-sync/internal/metrics"
	"github.com/outagex/outagex-sync/internal/models"
	"github.com/outagex/outagex-sync/internal/reconcile"
)

// Topic identifies a slice of the view for granular subscription. A reader
// observing one topic is never notified for changes on another.
type Topic string

const (
	TopicIncident   Topic = "incident"
	TopicTimeline   Topic = "timeline"
	TopicLogs       Topic = "logs"
	TopicChat       Topic = "chat"
	TopicMetrics    Topic = "metrics"
	TopicSolution   Topic = "solution"
	TopicConnection Topic = "connection"
	TopicNotice     Topic = "notice"
)

// Options bounds the view collections.
type Options struct {
	LogCap      int
	TimelineCap int
	ChatCap     int
	TypingTTL   time.Duration
	ProjectID   string
}

// Store is the observable state container. Constructed once at the
// composition root and injected; there is deliberately no package-level
// instance.
type Store struct {
	mu     sync.RWMutex
	logger *slog.Logger

	machine  *lifecycle.Machine
	logs     *reconcile.LogBook
	timeline *reconcile.Timeline
	chat     *chat.Channel

	solution   *models.Solution
	sysMetrics models.SystemMetrics
	connected  bool
	projectID  string
	notice     string

	subMu   sync.Mutex
	subs    map[Topic]map[int]chan struct{}
	nextSub int
}

// New creates a store scoped to the initially selected project.
func New(opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		logger:    logger,
		machine:   lifecycle.NewMachine(),
		logs:      reconcile.NewLogBook(opts.LogCap),
		timeline:  reconcile.NewTimeline(opts.TimelineCap),
		projectID: opts.ProjectID,
		subs:      make(map[Topic]map[int]chan struct{}),
	}
	s.chat = chat.NewChannel(opts.ChatCap, opts.TypingTTL, func() { s.publish(TopicChat) })
	return s
}

// Subscribe registers interest in one topic. The returned channel receives a
// coalesced signal per change; the cancel func releases the subscription.
func (s *Store) Subscribe(topic Topic) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[int]chan struct{})
	}
	id := s.nextSub
	s.nextSub++
	s.subs[topic][id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		delete(s.subs[topic], id)
		s.subMu.Unlock()
	}
	return ch, cancel
}

// publish signals one topic. Non-blocking: a subscriber that has not drained
// its pending signal coalesces with it.
func (s *Store) publish(topic Topic) {
	s.subMu.Lock()
	for _, ch := range s.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subMu.Unlock()
}

// inContext reports whether an event tagged with the given project belongs
// to the current selection. Untagged events always apply. Must be called
// with the mutex held.
func (s *Store) inContext(projectID string) bool {
	if projectID == "" || projectID == s.projectID {
		return true
	}
	metrics.StaleContextDropped()
	return false
}

// ApplyDetected installs a freshly detected incident. A detection for a
// still-active incident is dropped diagnostically; the one-incident
// invariant holds.
func (s *Store) ApplyDetected(p models.IncidentDetectedPayload) {
	s.mu.Lock()
	if !s.inContext(p.ProjectID) {
		s.mu.Unlock()
		return
	}
	err := s.machine.Detect(p.Incident)
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, lifecycle.ErrActiveIncident) {
			s.logger.Warn("detection ignored, incident still active",
				slog.String("incident_id", p.Incident.ID))
		} else {
			metrics.MalformedDropped("incident", 1)
			s.logger.Warn("detection dropped", slog.Any("error", err))
		}
		return
	}
	s.publish(TopicIncident)
}

// ApplyStatus moves the incident to the named status. Off-path transitions
// are applied but surfaced as warnings; other errors drop the event.
func (s *Store) ApplyStatus(p models.StatusChangePayload) {
	s.mu.Lock()
	if !s.inContext(p.ProjectID) {
		s.mu.Unlock()
		return
	}
	err := s.machine.ApplyStatus(p.Status, p.Incident)
	s.mu.Unlock()

	var warning *lifecycle.TransitionWarning
	switch {
	case err == nil:
	case errors.As(err, &warning):
		metrics.OffPathTransition()
		s.logger.Warn("off-path status transition applied",
			slog.String("from", string(warning.From)),
			slog.String("to", string(warning.To)))
	default:
		s.logger.Warn("status change dropped", slog.Any("error", err))
		return
	}
	s.publish(TopicIncident)
}

// ApplyAgentUpdate arms the composing indicator. Phase progress itself
// arrives through timeline entries; the activity signal only drives the
// transient flag.
func (s *Store) ApplyAgentUpdate(p models.AgentUpdatePayload) {
	s.mu.Lock()
	if !s.inContext(p.ProjectID) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.chat.SignalTyping()
	s.publish(TopicChat)
}

// MergeLogs folds a streamed log batch into the canonical sequence.
func (s *Store) MergeLogs(batch []models.LogEntry, projectID string) {
	s.mu.Lock()
	if !s.inContext(projectID) {
		s.mu.Unlock()
		return
	}
	stats := s.logs.Merge(batch)
	s.mu.Unlock()

	metrics.MalformedDropped("logs", stats.Malformed)
	metrics.LogsEvicted(stats.Evicted)
	if stats.Accepted > 0 {
		s.publish(TopicLogs)
	}
}

// ReplaceLogs installs backfilled history wholesale, but only when the
// history still belongs to the selected project. A late response for a
// stale selection is discarded.
func (s *Store) ReplaceLogs(entries []models.LogEntry, projectID string) {
	s.mu.Lock()
	if projectID != s.projectID {
		s.mu.Unlock()
		metrics.StaleContextDropped()
		s.logger.Debug("stale history response discarded",
			slog.String("project_id", projectID))
		return
	}
	stats := s.logs.Replace(entries)
	s.mu.Unlock()

	metrics.MalformedDropped("logs", stats.Malformed)
	s.publish(TopicLogs)
}

// UpsertTimeline applies one timeline entry delivery.
func (s *Store) UpsertTimeline(entry models.TimelineEntry, projectID string) {
	s.mu.Lock()
	if !s.inContext(projectID) {
		s.mu.Unlock()
		return
	}
	stats := s.timeline.Upsert(entry)
	s.mu.Unlock()

	metrics.MalformedDropped("timeline", stats.Malformed)
	if stats.Malformed == 0 {
		s.publish(TopicTimeline)
	}
}

// ApplySolution records a proposed remediation.
func (s *Store) ApplySolution(p models.SolutionProposedPayload) {
	s.mu.Lock()
	if !s.inContext(p.ProjectID) {
		s.mu.Unlock()
		return
	}
	solution := p.Solution
	if solution.RootCause == "" {
		solution.RootCause = p.RootCause
	}
	if solution.CreatedAt.IsZero() {
		solution.CreatedAt = time.Now().UTC()
	}
	s.solution = &solution
	s.mu.Unlock()

	s.publish(TopicSolution)
}

// AppendChat applies one inbound transcript message.
func (s *Store) AppendChat(msg models.ChatMessage) {
	if s.chat.Append(msg) {
		s.publish(TopicChat)
	} else if msg.Validate() != nil {
		metrics.MalformedDropped("chat", 1)
	}
}

// AppendLocalChat optimistically appends a user message and returns the
// pending copy for the send path.
func (s *Store) AppendLocalChat(content string) models.ChatMessage {
	msg := s.chat.AppendLocal(content)
	s.publish(TopicChat)
	return msg
}

// MarkChatFailed surfaces a send failure on the specific message.
func (s *Store) MarkChatFailed(id string) {
	if s.chat.MarkFailed(id) {
		s.publish(TopicChat)
	}
}

// ApplyMetrics refreshes the last-write-wins system gauges.
func (s *Store) ApplyMetrics(p models.MetricsUpdatePayload) {
	s.mu.Lock()
	if !s.inContext(p.ProjectID) {
		s.mu.Unlock()
		return
	}
	s.sysMetrics = p.Metrics
	s.mu.Unlock()

	s.publish(TopicMetrics)
}

// SetConnected records upstream connectivity. Connectivity is observed, never
// thrown: readers see a flag.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()

	if changed {
		s.publish(TopicConnection)
	}
}

// SetNotice surfaces a transient user-visible message, such as a failed
// history fetch. An empty string clears it.
func (s *Store) SetNotice(notice string) {
	s.mu.Lock()
	s.notice = notice
	s.mu.Unlock()
	s.publish(TopicNotice)
}

// SelectProject switches the monitored target. The streams of the previous
// project are cleared immediately — selection changes are not retroactive,
// and a later backfill repopulates history for the new project. Returns
// false when the selection is unchanged.
func (s *Store) SelectProject(projectID string) bool {
	s.mu.Lock()
	if projectID == s.projectID {
		s.mu.Unlock()
		return false
	}
	s.projectID = projectID
	s.machine.Reset()
	s.logs.Clear()
	s.timeline.Clear()
	s.solution = nil
	s.sysMetrics = models.SystemMetrics{}
	s.notice = ""
	s.mu.Unlock()

	s.chat.Reset()
	for _, topic := range []Topic{TopicIncident, TopicTimeline, TopicLogs, TopicChat, TopicMetrics, TopicSolution, TopicNotice} {
		s.publish(topic)
	}
	return true
}

// Reset restores initial values: incident, timeline, logs, messages,
// solution, metrics, notice. The transport session and the selected project
// are untouched.
func (s *Store) Reset() {
	s.mu.Lock()
	s.machine.Reset()
	s.logs.Clear()
	s.timeline.Clear()
	s.solution = nil
	s.sysMetrics = models.SystemMetrics{}
	s.notice = ""
	s.mu.Unlock()

	s.chat.Reset()
	for _, topic := range []Topic{TopicIncident, TopicTimeline, TopicLogs, TopicChat, TopicMetrics, TopicSolution, TopicNotice} {
		s.publish(topic)
	}
}
