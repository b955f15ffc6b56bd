// Package reconcile merges push-delivered and backfilled collections into
// canonical ordered, deduplicated, capacity-bounded sequences.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/outagex/outagex-sync/internal/models"
)

// MergeStats reports what happened to one inbound batch.
type MergeStats struct {
	Accepted   int
	Duplicates int
	Malformed  int
	Evicted    int
}

// LogBook holds the canonical log sequence: ordered by timestamp ascending,
// deduplicated by identity, capped at a fixed size with oldest-first eviction.
// Push batches and historical backfills are not chronologically monotonic
// relative to each other, so the sequence is re-sorted after every merge
// rather than relying on insertion order. Not safe for concurrent use; the
// owning store serializes access.
type LogBook struct {
	cap     int
	entries []models.LogEntry
	seen    map[string]struct{}
}

// NewLogBook creates a log book bounded at capacity entries.
func NewLogBook(capacity int) *LogBook {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LogBook{
		cap:  capacity,
		seen: make(map[string]struct{}),
	}
}

// SyntheticID derives a deterministic identity for a record delivered without
// one, from its timestamp and batch position. Uniqueness is best-effort: two
// id-less records sharing a timestamp and position in different batches will
// collide, and the later one is treated as a duplicate.
func SyntheticID(e models.LogEntry, position int) string {
	return fmt.Sprintf("synth-%d-%d", e.Timestamp.UnixNano(), position)
}

// Merge folds a push batch into the sequence. Malformed items are dropped and
// counted, never aborting the remainder of the batch. Items whose identity
// was already seen are dropped as duplicates, including identities previously
// evicted within the current sequence window only: eviction removes the
// identity from the seen-set to bound memory, so an evicted entry re-delivered
// later is re-filtered by the age-based truncation instead.
func (b *LogBook) Merge(batch []models.LogEntry) MergeStats {
	var stats MergeStats
	for i, entry := range batch {
		if err := entry.Validate(); err != nil {
			stats.Malformed++
			continue
		}
		if entry.ID == "" {
			entry.ID = SyntheticID(entry, i)
		}
		if _, dup := b.seen[entry.ID]; dup {
			stats.Duplicates++
			continue
		}
		b.seen[entry.ID] = struct{}{}
		b.entries = append(b.entries, entry)
		stats.Accepted++
	}

	if stats.Accepted > 0 {
		b.resort()
		stats.Evicted = b.truncate()
	}
	return stats
}

// Replace swaps the sequence wholesale for a different context's history.
// Nothing from the previous sequence survives, including its seen-set.
func (b *LogBook) Replace(entries []models.LogEntry) MergeStats {
	b.entries = b.entries[:0]
	b.seen = make(map[string]struct{}, len(entries))

	var stats MergeStats
	for i, entry := range entries {
		if err := entry.Validate(); err != nil {
			stats.Malformed++
			continue
		}
		if entry.ID == "" {
			entry.ID = SyntheticID(entry, i)
		}
		if _, dup := b.seen[entry.ID]; dup {
			stats.Duplicates++
			continue
		}
		b.seen[entry.ID] = struct{}{}
		b.entries = append(b.entries, entry)
		stats.Accepted++
	}

	b.resort()
	stats.Evicted = b.truncate()
	return stats
}

// Clear empties the sequence.
func (b *LogBook) Clear() {
	b.entries = b.entries[:0]
	b.seen = make(map[string]struct{})
}

// Snapshot returns a copy of the current sequence.
func (b *LogBook) Snapshot() []models.LogEntry {
	out := make([]models.LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the current sequence length.
func (b *LogBook) Len() int { return len(b.entries) }

// resort restores timestamp order. The sort is stable so entries sharing a
// timestamp keep their arrival order.
func (b *LogBook) resort() {
	sort.SliceStable(b.entries, func(i, j int) bool {
		return b.entries[i].Timestamp.Before(b.entries[j].Timestamp)
	})
}

// truncate evicts the oldest entries beyond the cap and forgets their
// identities, returning the eviction count.
func (b *LogBook) truncate() int {
	excess := len(b.entries) - b.cap
	if excess <= 0 {
		return 0
	}
	for _, evicted := range b.entries[:excess] {
		delete(b.seen, evicted.ID)
	}
	b.entries = append(b.entries[:0], b.entries[excess:]...)
	return excess
}
