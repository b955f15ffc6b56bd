package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/outagex/outagex-sync/internal/metrics"
	"github.com/outagex/outagex-sync/internal/models"
	"github.com/outagex/outagex-sync/internal/utils"
)

// Fetcher is the slice of Client the loader needs.
type Fetcher interface {
	FetchLogs(ctx context.Context, projectID string, since time.Time) ([]models.LogEntry, error)
}

// View is the slice of the store the loader writes into.
type View interface {
	ReplaceLogs(entries []models.LogEntry, projectID string)
	SetNotice(notice string)
}

// Loader runs history backfills. At most one fetch is in flight: a new
// Refresh cancels the previous one, so switching projects mid-fetch never
// races a stale response into the view. The store guards against the
// remaining window by checking the project tag on ReplaceLogs.
type Loader struct {
	fetcher Fetcher
	view    View
	timeout time.Duration
	logger  *slog.Logger
	latency *utils.LatencyTracker

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoader constructs a loader with a per-fetch timeout.
func NewLoader(fetcher Fetcher, view View, timeout time.Duration, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Loader{
		fetcher: fetcher,
		view:    view,
		timeout: timeout,
		logger:  logger,
		latency: utils.NewLatencyTracker(256),
	}
}

// Refresh starts an asynchronous backfill for the given project, cancelling
// any fetch still in flight. The result lands in the view through
// ReplaceLogs; a failure surfaces as a user-visible notice instead of an
// error, the live stream keeps the view usable.
func (l *Loader) Refresh(ctx context.Context, projectID string) {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		defer cancel()
		l.fetch(fetchCtx, projectID)
	}()
}

// Wait blocks until the in-flight fetch, if any, completes. Used on
// shutdown.
func (l *Loader) Wait() {
	l.wg.Wait()
}

func (l *Loader) fetch(ctx context.Context, projectID string) {
	fetchCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	entries, err := l.fetcher.FetchLogs(fetchCtx, projectID, time.Time{})
	elapsed := time.Since(start)
	l.latency.Observe(elapsed)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Superseded by a newer Refresh; nothing to report.
			return
		}
		metrics.ObserveBackfill(elapsed, metrics.OutcomeError)
		l.logger.Warn("history backfill failed",
			slog.String("project_id", projectID),
			slog.Any("error", err))
		l.view.SetNotice("log history unavailable")
		return
	}

	metrics.ObserveBackfill(elapsed, metrics.OutcomeSuccess)
	l.logger.Info("history backfill complete",
		slog.String("project_id", projectID),
		slog.Int("entries", len(entries)),
		slog.Duration("elapsed", elapsed),
		slog.Duration("p95", l.latency.Percentile(95)))
	l.view.ReplaceLogs(entries, projectID)
}
