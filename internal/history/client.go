// Package history backfills the log view from the upstream REST history API.
// Live streaming and history are reconciled by the store; this package only
// fetches, decodes, and caches.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/outagex/outagex-sync/internal/cache"
	"github.com/outagex/outagex-sync/internal/config"
	"github.com/outagex/outagex-sync/internal/models"
	"github.com/outagex/outagex-sync/internal/utils"
)

// Client fetches persisted log history over REST. History records carry
// serialized timestamps; the client parses them so the reconciler only ever
// sees time.Time.
type Client struct {
	baseURL    string
	logsPath   string
	limit      int
	cacheTTL   time.Duration
	httpClient *http.Client
	cache      cache.Provider
	logger     *slog.Logger
}

// NewClient constructs a history client. The cache provider absorbs repeated
// backfills across dashboard reloads; pass cache.NoopProvider{} to disable.
func NewClient(cfg config.HistoryConfig, provider cache.Provider, logger *slog.Logger) *Client {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		logsPath: cfg.LogsPath,
		limit:    cfg.Limit,
		cacheTTL: cfg.CacheTTL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache:  provider,
		logger: logger,
	}
}

// wireLogEntry is the REST shape of a history record. Timestamps arrive as
// RFC3339 strings and older records have no id.
type wireLogEntry struct {
	ID        string         `json:"id,omitempty"`
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FetchLogs retrieves the persisted log history for a project, newest first
// truncated to the configured limit. Records whose timestamp does not parse
// are skipped rather than failing the batch.
func (c *Client) FetchLogs(ctx context.Context, projectID string, since time.Time) ([]models.LogEntry, error) {
	if c.baseURL == "" {
		return nil, utils.NewAppError("history.FetchLogs", "history base URL not configured", nil)
	}

	key := cacheKey(projectID, since)
	if data, err := c.cache.Get(ctx, key); err == nil {
		var entries []models.LogEntry
		if err := json.Unmarshal(data, &entries); err == nil {
			return entries, nil
		}
		_ = c.cache.Del(ctx, key)
	}

	var response struct {
		Entries []wireLogEntry `json:"entries"`
	}
	if err := c.getJSON(ctx, c.logsURL(projectID, since), &response); err != nil {
		return nil, utils.NewAppError("history.FetchLogs", "history request failed", err)
	}

	entries := make([]models.LogEntry, 0, len(response.Entries))
	for _, rec := range response.Entries {
		ts, err := utils.ParseRFC3339(rec.Timestamp)
		if err != nil {
			c.logger.Debug("history record skipped",
				slog.String("id", rec.ID),
				slog.Any("error", err))
			continue
		}
		entries = append(entries, models.LogEntry{
			ID:        rec.ID,
			Timestamp: ts,
			Level:     models.Level(rec.Level),
			Message:   rec.Message,
			Source:    rec.Source,
			Metadata:  rec.Metadata,
		})
	}

	if data, err := json.Marshal(entries); err == nil {
		if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
			c.logger.Debug("history cache write failed", slog.Any("error", err))
		}
	}
	return entries, nil
}

// Invalidate drops the cached history for a project so the next fetch hits
// the upstream.
func (c *Client) Invalidate(ctx context.Context, projectID string) {
	_ = c.cache.Del(ctx, cacheKey(projectID, time.Time{}))
}

func cacheKey(projectID string, since time.Time) string {
	if since.IsZero() {
		return "history:logs:" + projectID
	}
	return fmt.Sprintf("history:logs:%s:%d", projectID, since.Unix())
}

func (c *Client) logsURL(projectID string, since time.Time) string {
	endpoint := c.resolvePath(c.logsPath)
	if endpoint == "" {
		return ""
	}
	query := url.Values{}
	query.Set("project_id", projectID)
	query.Set("type", "log")
	if c.limit > 0 {
		query.Set("limit", strconv.Itoa(c.limit))
	}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	return endpoint + "?" + query.Encode()
}

func (c *Client) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history API returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
