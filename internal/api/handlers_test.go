package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/outagex/outagex-sync/internal/models"
	"github.com/outagex/outagex-sync/internal/store"
	"github.com/outagex/outagex-sync/internal/transport"
)

type fakeUpstream struct {
	mu        sync.Mutex
	err       error
	triggers  int
	executed  []string
	sent      []models.ChatMessage
	stops     int
}

func (f *fakeUpstream) TriggerIncident() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	return f.err
}

func (f *fakeUpstream) ExecuteSolution(solutionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, solutionID)
	return f.err
}

func (f *fakeUpstream) SendChat(msg models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeUpstream) StopAgent() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.err
}

type fakeBackfill struct {
	mu       sync.Mutex
	projects []string
}

func (f *fakeBackfill) Refresh(_ context.Context, projectID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, projectID)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(st *store.Store, upstream Upstream, backfill Backfill) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := &handlers{store: st, upstream: upstream, backfill: backfill, logger: discardLogger()}
	h.register(router)
	return router
}

func newAPIStore() *store.Store {
	return store.New(store.Options{
		LogCap:      100,
		TimelineCap: 50,
		ChatCap:     50,
		TypingTTL:   50 * time.Millisecond,
		ProjectID:   "proj-a",
	}, nil)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStateSnapshot(t *testing.T) {
	st := newAPIStore()
	st.ApplyDetected(models.IncidentDetectedPayload{
		Incident: models.Incident{
			ID:        "inc-1",
			Title:     "checkout latency",
			Severity:  models.SeverityHigh,
			StartedAt: time.Now().UTC(),
		},
	})
	router := newTestRouter(st, &fakeUpstream{}, &fakeBackfill{})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Incident == nil || snap.Incident.ID != "inc-1" {
		t.Fatalf("snapshot incident = %+v", snap.Incident)
	}
	if snap.ProjectID != "proj-a" {
		t.Fatalf("project = %s", snap.ProjectID)
	}
}

func TestTriggerConflictWhileActive(t *testing.T) {
	st := newAPIStore()
	upstream := &fakeUpstream{}
	router := newTestRouter(st, upstream, &fakeBackfill{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/incident/trigger", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("idle trigger status = %d", rec.Code)
	}
	if upstream.triggers != 1 {
		t.Fatalf("triggers = %d", upstream.triggers)
	}

	st.ApplyDetected(models.IncidentDetectedPayload{
		Incident: models.Incident{ID: "inc-1", Title: "x", StartedAt: time.Now().UTC()},
	})
	rec = doJSON(t, router, http.MethodPost, "/api/v1/incident/trigger", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("active trigger status = %d, want 409", rec.Code)
	}
	if upstream.triggers != 1 {
		t.Fatal("conflicting trigger reached upstream")
	}
}

func TestTriggerWhileDisconnected(t *testing.T) {
	router := newTestRouter(newAPIStore(), &fakeUpstream{err: transport.ErrNotConnected}, &fakeBackfill{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/incident/trigger", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestExecuteSolutionRequiresProposal(t *testing.T) {
	st := newAPIStore()
	upstream := &fakeUpstream{}
	router := newTestRouter(st, upstream, &fakeBackfill{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/solution/execute", gin.H{"solution_id": "sol-1"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 without proposal", rec.Code)
	}

	st.ApplySolution(models.SolutionProposedPayload{
		Solution: models.Solution{ID: "sol-1", Summary: "rollback"},
	})
	rec = doJSON(t, router, http.MethodPost, "/api/v1/solution/execute", gin.H{"solution_id": "sol-1"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(upstream.executed) != 1 || upstream.executed[0] != "sol-1" {
		t.Fatalf("executed = %v", upstream.executed)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/solution/execute", gin.H{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without solution_id", rec.Code)
	}
}

func TestChatMessageOptimisticAppend(t *testing.T) {
	st := newAPIStore()
	upstream := &fakeUpstream{}
	router := newTestRouter(st, upstream, &fakeBackfill{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/chat/message", gin.H{"content": "what broke?"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	msgs := st.Messages()
	if len(msgs) != 1 || msgs[0].Delivery != models.DeliveryPending {
		t.Fatalf("messages = %+v, want one pending", msgs)
	}
	if len(upstream.sent) != 1 || upstream.sent[0].Content != "what broke?" {
		t.Fatalf("sent = %+v", upstream.sent)
	}
}

func TestChatMessageSendFailureMarksFailed(t *testing.T) {
	st := newAPIStore()
	router := newTestRouter(st, &fakeUpstream{err: transport.ErrNotConnected}, &fakeBackfill{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/chat/message", gin.H{"content": "hello?"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	msgs := st.Messages()
	if len(msgs) != 1 || msgs[0].Delivery != models.DeliveryFailed {
		t.Fatalf("messages = %+v, want one failed", msgs)
	}
}

func TestChatMessageRejectsEmptyContent(t *testing.T) {
	router := newTestRouter(newAPIStore(), &fakeUpstream{}, &fakeBackfill{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/chat/message", gin.H{"content": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSelectContextTriggersBackfill(t *testing.T) {
	st := newAPIStore()
	backfill := &fakeBackfill{}
	router := newTestRouter(st, &fakeUpstream{}, backfill)

	rec := doJSON(t, router, http.MethodPut, "/api/v1/context", gin.H{"project_id": "proj-b"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if st.ProjectID() != "proj-b" {
		t.Fatalf("project = %s", st.ProjectID())
	}
	if len(backfill.projects) != 1 || backfill.projects[0] != "proj-b" {
		t.Fatalf("backfills = %v", backfill.projects)
	}

	// Unchanged selection: no second backfill.
	rec = doJSON(t, router, http.MethodPut, "/api/v1/context", gin.H{"project_id": "proj-b"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(backfill.projects) != 1 {
		t.Fatalf("backfills = %v, want one", backfill.projects)
	}
}

func TestStreamSendsInitialState(t *testing.T) {
	st := newAPIStore()
	router := newTestRouter(st, &fakeUpstream{}, &fakeBackfill{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %s", ct)
	}
	body := rec.Body.String()
	if !bytes.Contains([]byte(body), []byte("event: state")) {
		t.Fatalf("missing initial state event: %q", body)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(newAPIStore(), &fakeUpstream{}, &fakeBackfill{})

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
