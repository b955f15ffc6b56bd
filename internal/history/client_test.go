package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/outagex/outagex-sync/internal/cache"
	"github.com/outagex/outagex-sync/internal/config"
	"github.com/outagex/outagex-sync/internal/utils"
)

func historyConfig() config.HistoryConfig {
	return config.HistoryConfig{
		BaseURL:  "http://history.local",
		LogsPath: "/api/v1/history/logs",
		Timeout:  time.Second,
		Limit:    100,
		CacheTTL: time.Minute,
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestFetchLogsParsesWireTimestamps(t *testing.T) {
	var gotURL string
	client := NewClient(historyConfig(), cache.NoopProvider{}, nil)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		gotURL = req.URL.String()
		return jsonResponse(http.StatusOK, `{"entries":[
			{"id":"h1","timestamp":"2026-08-24T10:00:00Z","level":"error","message":"db timeout"},
			{"id":"h2","timestamp":"2026-08-24T10:00:05Z","level":"warn","message":"retrying","source":"api"}
		]}`), nil
	})

	entries, err := client.FetchLogs(context.Background(), "proj-a", time.Time{})
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Timestamp.IsZero() || entries[1].Source != "api" {
		t.Fatalf("entries not decoded: %+v", entries)
	}

	req, _ := http.NewRequest(http.MethodGet, gotURL, nil)
	q := req.URL.Query()
	if q.Get("project_id") != "proj-a" || q.Get("type") != "log" || q.Get("limit") != "100" {
		t.Fatalf("query = %s", gotURL)
	}
}

func TestFetchLogsSkipsUnparsableRecords(t *testing.T) {
	client := NewClient(historyConfig(), cache.NoopProvider{}, nil)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"entries":[
			{"id":"bad","timestamp":"yesterday-ish","level":"error","message":"x"},
			{"id":"good","timestamp":"2026-08-24T10:00:00Z","level":"info","message":"ok"}
		]}`), nil
	})

	entries, err := client.FetchLogs(context.Background(), "proj-a", time.Time{})
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "good" {
		t.Fatalf("entries = %+v, want only the parsable record", entries)
	}
}

func TestFetchLogsSurfacesHTTPFailure(t *testing.T) {
	client := NewClient(historyConfig(), cache.NoopProvider{}, nil)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `{}`), nil
	})

	_, err := client.FetchLogs(context.Background(), "proj-a", time.Time{})
	if err == nil {
		t.Fatal("expected error for 502")
	}
	var appErr *utils.AppError
	if !errors.As(err, &appErr) || appErr.Op != "history.FetchLogs" {
		t.Fatalf("err = %v, want AppError from history.FetchLogs", err)
	}
}

func TestFetchLogsRequiresBaseURL(t *testing.T) {
	cfg := historyConfig()
	cfg.BaseURL = ""
	client := NewClient(cfg, cache.NoopProvider{}, nil)

	if _, err := client.FetchLogs(context.Background(), "proj-a", time.Time{}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}

// memoryCache is a map-backed Provider for cache behavior tests.
type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, cache.ErrCacheMiss
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryCache) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryCache) Close() error { return nil }

func TestFetchLogsServedFromCache(t *testing.T) {
	calls := 0
	client := NewClient(historyConfig(), newMemoryCache(), nil)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, `{"entries":[
			{"id":"h1","timestamp":"2026-08-24T10:00:00Z","level":"error","message":"db timeout"}
		]}`), nil
	})

	for i := 0; i < 3; i++ {
		entries, err := client.FetchLogs(context.Background(), "proj-a", time.Time{})
		if err != nil {
			t.Fatalf("FetchLogs #%d: %v", i, err)
		}
		if len(entries) != 1 {
			t.Fatalf("entries = %d, want 1", len(entries))
		}
	}
	if calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls)
	}

	client.Invalidate(context.Background(), "proj-a")
	if _, err := client.FetchLogs(context.Background(), "proj-a", time.Time{}); err != nil {
		t.Fatalf("FetchLogs after invalidate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("upstream calls = %d, want 2 after invalidate", calls)
	}
}
