package store

import (
	"testing"
	"time"

	"github.com/outagex/outagex-sync/internal/models"
)

func newTestStore() *Store {
	return New(Options{
		LogCap:      100,
		TimelineCap: 50,
		ChatCap:     50,
		TypingTTL:   50 * time.Millisecond,
		ProjectID:   "proj-a",
	}, nil)
}

func detectedPayload(id, project string) models.IncidentDetectedPayload {
	return models.IncidentDetectedPayload{
		Incident: models.Incident{
			ID:        id,
			Title:     "checkout latency spike",
			Severity:  models.SeverityCritical,
			Status:    models.StatusDetecting,
			StartedAt: time.Now().UTC(),
		},
		ProjectID: project,
	}
}

func logBatch(project string, ids ...string) ([]models.LogEntry, string) {
	base := time.Now().UTC()
	entries := make([]models.LogEntry, 0, len(ids))
	for i, id := range ids {
		entries = append(entries, models.LogEntry{
			ID:        id,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Level:     models.LevelError,
			Message:   "boom " + id,
		})
	}
	return entries, project
}

func drained(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestFreshDetectionPopulatesIncident(t *testing.T) {
	s := newTestStore()
	s.ApplyDetected(detectedPayload("inc-1", "proj-a"))

	if in := s.Incident(); in == nil || in.ID != "inc-1" {
		t.Fatalf("incident = %+v, want inc-1", in)
	}
	if s.Status() != models.StatusDetecting {
		t.Fatalf("status = %s, want detecting", s.Status())
	}
	if s.CanTrigger() {
		t.Fatal("canTrigger should be false while detecting")
	}
}

func TestGranularSubscriptions(t *testing.T) {
	s := newTestStore()

	incidentCh, cancelIncident := s.Subscribe(TopicIncident)
	logsCh, cancelLogs := s.Subscribe(TopicLogs)
	defer cancelIncident()
	defer cancelLogs()

	s.MergeLogs(logBatch("proj-a", "l1", "l2"))

	if drained(incidentCh) {
		t.Fatal("incident subscriber notified by a log append")
	}
	if !drained(logsCh) {
		t.Fatal("logs subscriber not notified")
	}

	s.ApplyDetected(detectedPayload("inc-1", "proj-a"))
	if !drained(incidentCh) {
		t.Fatal("incident subscriber not notified by detection")
	}
	if drained(logsCh) {
		t.Fatal("logs subscriber notified by detection")
	}
}

func TestContextIsolation(t *testing.T) {
	s := newTestStore()
	logsCh, cancel := s.Subscribe(TopicLogs)
	defer cancel()

	// Context B events while A is selected: no visible change.
	s.MergeLogs(logBatch("proj-b", "b1", "b2"))
	if got := len(s.Logs()); got != 0 {
		t.Fatalf("logs length = %d, want 0", got)
	}
	if drained(logsCh) {
		t.Fatal("subscriber notified for a foreign context")
	}

	s.ApplyDetected(detectedPayload("inc-b", "proj-b"))
	if s.Incident() != nil {
		t.Fatal("foreign-context incident applied")
	}

	// Untagged events always apply.
	s.MergeLogs(logBatch("", "u1"))
	if got := len(s.Logs()); got != 1 {
		t.Fatalf("logs length = %d, want 1", got)
	}
}

func TestStaleHistoryResponseDiscarded(t *testing.T) {
	s := newTestStore()

	entries, _ := logBatch("", "h1", "h2")
	s.ReplaceLogs(entries, "proj-old")
	if got := len(s.Logs()); got != 0 {
		t.Fatalf("stale history applied, length = %d", got)
	}

	s.ReplaceLogs(entries, "proj-a")
	if got := len(s.Logs()); got != 2 {
		t.Fatalf("current history not applied, length = %d", got)
	}
}

func TestSelectProjectClearsStreams(t *testing.T) {
	s := newTestStore()
	s.ApplyDetected(detectedPayload("inc-1", "proj-a"))
	s.MergeLogs(logBatch("proj-a", "l1"))
	s.UpsertTimeline(models.TimelineEntry{
		ID:        "t1",
		Timestamp: time.Now().UTC(),
		Phase:     models.PhaseDetection,
		Title:     "detected",
		Status:    models.EntryCompleted,
	}, "proj-a")

	if !s.SelectProject("proj-b") {
		t.Fatal("selection change not reported")
	}
	if s.SelectProject("proj-b") {
		t.Fatal("unchanged selection reported as changed")
	}

	view := s.View()
	if view.Incident != nil || len(view.Logs) != 0 || len(view.Timeline) != 0 {
		t.Fatalf("previous context leaked into view: %+v", view)
	}
	if view.ProjectID != "proj-b" {
		t.Fatalf("projectID = %s, want proj-b", view.ProjectID)
	}

	// Events for the new selection now apply.
	s.MergeLogs(logBatch("proj-b", "b1"))
	if got := len(s.Logs()); got != 1 {
		t.Fatalf("logs length = %d, want 1", got)
	}
}

func TestResetKeepsConnectionAndSelection(t *testing.T) {
	s := newTestStore()
	s.SetConnected(true)
	s.ApplyDetected(detectedPayload("inc-1", "proj-a"))
	s.MergeLogs(logBatch("proj-a", "l1"))
	s.AppendChat(models.ChatMessage{ID: "m1", Role: models.RoleAgent, Content: "investigating"})
	s.ApplyMetrics(models.MetricsUpdatePayload{Metrics: models.SystemMetrics{CPUPercent: 80}})

	s.Reset()

	view := s.View()
	if view.Incident != nil || len(view.Logs) != 0 || len(view.Messages) != 0 {
		t.Fatalf("reset left data behind: %+v", view)
	}
	if view.Metrics != (models.SystemMetrics{}) {
		t.Fatalf("metrics not cleared: %+v", view.Metrics)
	}
	if !view.Connected {
		t.Fatal("reset must not clear connectivity")
	}
	if view.ProjectID != "proj-a" {
		t.Fatal("reset must not change the selection")
	}
}

func TestStatusChangeDrivesLifecycle(t *testing.T) {
	s := newTestStore()
	s.ApplyDetected(detectedPayload("inc-1", "proj-a"))

	s.ApplyStatus(models.StatusChangePayload{Status: models.StatusAnalyzing})
	if s.Status() != models.StatusAnalyzing {
		t.Fatalf("status = %s, want analyzing", s.Status())
	}

	// Status change with no incident after reset: dropped, no panic.
	s.Reset()
	s.ApplyStatus(models.StatusChangePayload{Status: models.StatusExecuting})
	if s.Status() != models.StatusIdle {
		t.Fatalf("status = %s, want idle", s.Status())
	}
}

func TestSolutionAndNotice(t *testing.T) {
	s := newTestStore()
	solCh, cancel := s.Subscribe(TopicSolution)
	defer cancel()

	s.ApplySolution(models.SolutionProposedPayload{
		Solution:  models.Solution{ID: "sol-1", Summary: "rollback deploy 42"},
		RootCause: "bad migration",
	})
	if !drained(solCh) {
		t.Fatal("solution subscriber not notified")
	}
	sol := s.Solution()
	if sol == nil || sol.RootCause != "bad migration" {
		t.Fatalf("solution = %+v", sol)
	}

	s.SetNotice("log history unavailable")
	if s.Notice() == "" {
		t.Fatal("notice not set")
	}
}

func TestChatSendFailureMarksMessage(t *testing.T) {
	s := newTestStore()

	msg := s.AppendLocalChat("run the fix")
	s.MarkChatFailed(msg.ID)

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Delivery != models.DeliveryFailed {
		t.Fatalf("messages = %+v, want one failed", msgs)
	}
}

func TestConnectionFlagCoalesces(t *testing.T) {
	s := newTestStore()
	connCh, cancel := s.Subscribe(TopicConnection)
	defer cancel()

	s.SetConnected(true)
	if !drained(connCh) {
		t.Fatal("connection subscriber not notified")
	}
	// Same value again: no change, no signal.
	s.SetConnected(true)
	if drained(connCh) {
		t.Fatal("unchanged connectivity signalled")
	}
}
