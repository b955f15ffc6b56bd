package reconcile

import (
	"sort"

	"github.com/outagex/outagex-sync/internal/models"
)

// Timeline holds the investigation phase entries. Unlike logs, the merge key
// is the entry identity and re-delivery of a known identity overwrites the
// stored entry: a phase whose status advanced must update in place, not
// duplicate. Last writer wins by arrival order, not by timestamp. Not safe
// for concurrent use; the owning store serializes access.
type Timeline struct {
	cap     int
	entries []models.TimelineEntry
	index   map[string]int
}

// NewTimeline creates a timeline bounded at capacity entries.
func NewTimeline(capacity int) *Timeline {
	if capacity <= 0 {
		capacity = 200
	}
	return &Timeline{
		cap:   capacity,
		index: make(map[string]int),
	}
}

// Upsert applies one delivered entry. A malformed entry is dropped and
// reported through the stats. Known identities are replaced in place;
// new identities append, after which the sequence is re-sorted and capped.
func (t *Timeline) Upsert(entry models.TimelineEntry) MergeStats {
	var stats MergeStats
	if err := entry.Validate(); err != nil {
		stats.Malformed++
		return stats
	}

	if at, ok := t.index[entry.ID]; ok {
		t.entries[at] = entry
		stats.Duplicates++
	} else {
		t.entries = append(t.entries, entry)
		stats.Accepted++
	}

	t.resort()
	stats.Evicted = t.truncate()
	return stats
}

// Replace swaps the timeline wholesale for a different context's history.
func (t *Timeline) Replace(entries []models.TimelineEntry) MergeStats {
	t.entries = t.entries[:0]
	t.index = make(map[string]int, len(entries))

	var stats MergeStats
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			stats.Malformed++
			continue
		}
		if at, ok := t.index[entry.ID]; ok {
			t.entries[at] = entry
			stats.Duplicates++
			continue
		}
		t.index[entry.ID] = len(t.entries)
		t.entries = append(t.entries, entry)
		stats.Accepted++
	}

	t.resort()
	stats.Evicted = t.truncate()
	return stats
}

// Clear empties the timeline.
func (t *Timeline) Clear() {
	t.entries = t.entries[:0]
	t.index = make(map[string]int)
}

// Snapshot returns a copy of the current sequence.
func (t *Timeline) Snapshot() []models.TimelineEntry {
	out := make([]models.TimelineEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the current sequence length.
func (t *Timeline) Len() int { return len(t.entries) }

func (t *Timeline) resort() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].Timestamp.Before(t.entries[j].Timestamp)
	})
	t.reindex()
}

func (t *Timeline) truncate() int {
	excess := len(t.entries) - t.cap
	if excess <= 0 {
		return 0
	}
	t.entries = append(t.entries[:0], t.entries[excess:]...)
	t.reindex()
	return excess
}

func (t *Timeline) reindex() {
	for k := range t.index {
		delete(t.index, k)
	}
	for i, entry := range t.entries {
		t.index[entry.ID] = i
	}
}
