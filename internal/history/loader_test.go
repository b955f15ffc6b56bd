package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/outagex/outagex-sync/internal/models"
)

type fakeFetcher struct {
	mu      sync.Mutex
	block   chan struct{}
	entries []models.LogEntry
	err     error
	calls   []string
}

func (f *fakeFetcher) FetchLogs(ctx context.Context, projectID string, _ time.Time) ([]models.LogEntry, error) {
	f.mu.Lock()
	f.calls = append(f.calls, projectID)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

type fakeView struct {
	mu       sync.Mutex
	replaced []string
	notices  []string
}

func (v *fakeView) ReplaceLogs(entries []models.LogEntry, projectID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.replaced = append(v.replaced, projectID)
}

func (v *fakeView) SetNotice(notice string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, notice)
}

func TestRefreshDeliversToView(t *testing.T) {
	fetcher := &fakeFetcher{entries: []models.LogEntry{
		{ID: "h1", Timestamp: time.Now().UTC(), Level: models.LevelError, Message: "boom"},
	}}
	view := &fakeView{}
	loader := NewLoader(fetcher, view, time.Second, nil)

	loader.Refresh(context.Background(), "proj-a")
	loader.Wait()

	if len(view.replaced) != 1 || view.replaced[0] != "proj-a" {
		t.Fatalf("replaced = %v, want [proj-a]", view.replaced)
	}
	if len(view.notices) != 0 {
		t.Fatalf("unexpected notices: %v", view.notices)
	}
}

func TestRefreshFailureSetsNotice(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	view := &fakeView{}
	loader := NewLoader(fetcher, view, time.Second, nil)

	loader.Refresh(context.Background(), "proj-a")
	loader.Wait()

	if len(view.replaced) != 0 {
		t.Fatal("failed fetch must not touch the log view")
	}
	if len(view.notices) != 1 {
		t.Fatalf("notices = %v, want one", view.notices)
	}
}

func TestRefreshCancelsInFlightFetch(t *testing.T) {
	block := make(chan struct{})
	fetcher := &fakeFetcher{
		block: block,
		entries: []models.LogEntry{
			{ID: "h1", Timestamp: time.Now().UTC(), Level: models.LevelInfo, Message: "ok"},
		},
	}
	view := &fakeView{}
	loader := NewLoader(fetcher, view, 5*time.Second, nil)

	loader.Refresh(context.Background(), "proj-old")

	// Second refresh supersedes the blocked first one.
	fetcher.mu.Lock()
	fetcher.block = nil
	fetcher.mu.Unlock()
	loader.Refresh(context.Background(), "proj-new")
	loader.Wait()
	close(block)

	view.mu.Lock()
	defer view.mu.Unlock()
	if len(view.replaced) != 1 || view.replaced[0] != "proj-new" {
		t.Fatalf("replaced = %v, want only proj-new", view.replaced)
	}
	// A cancelled fetch is not a failure.
	if len(view.notices) != 0 {
		t.Fatalf("cancelled fetch raised a notice: %v", view.notices)
	}
}

func TestRefreshTimesOut(t *testing.T) {
	fetcher := &fakeFetcher{block: make(chan struct{})}
	view := &fakeView{}
	loader := NewLoader(fetcher, view, 20*time.Millisecond, nil)

	loader.Refresh(context.Background(), "proj-a")
	loader.Wait()

	view.mu.Lock()
	defer view.mu.Unlock()
	if len(view.notices) != 1 {
		t.Fatalf("timeout must surface a notice, got %v", view.notices)
	}
}
