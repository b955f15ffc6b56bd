// Package chat holds the agent conversation transcript and the transient
// composing indicator.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outagex/outagex-sync/internal/models"
)

// Channel is an append-only ordered message log. Messages are deduplicated by
// identity only — replayed delivery of a known identity confirms the local
// optimistic copy instead of appending. A transient typing flag is set by
// agent-activity signals and auto-cleared after a fixed delay; each signal
// re-arms a fresh timer and stale timers are discarded, so overlapping
// signals display without flicker.
type Channel struct {
	mu       sync.Mutex
	cap      int
	messages []models.ChatMessage
	seen     map[string]int

	typing    bool
	typingGen uint64
	typingTTL time.Duration

	// notify is invoked without the lock held when the typing flag clears
	// asynchronously.
	notify func()

	now func() time.Time
}

// NewChannel creates a channel bounded at capacity messages. notify may be
// nil; it is called when the typing flag auto-clears.
func NewChannel(capacity int, typingTTL time.Duration, notify func()) *Channel {
	if capacity <= 0 {
		capacity = 500
	}
	if typingTTL <= 0 {
		typingTTL = 3 * time.Second
	}
	if notify == nil {
		notify = func() {}
	}
	return &Channel{
		cap:       capacity,
		seen:      make(map[string]int),
		typingTTL: typingTTL,
		notify:    notify,
		now:       time.Now,
	}
}

// Append adds an inbound message. Re-delivery of a known identity marks the
// stored copy confirmed rather than appending; content is never used for
// deduplication. Returns true when the visible transcript changed.
func (c *Channel) Append(msg models.ChatMessage) bool {
	if msg.Validate() != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[msg.ID]; ok {
		if c.messages[at].Delivery == models.DeliveryPending {
			c.messages[at].Delivery = models.DeliveryConfirmed
			return true
		}
		return false
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.now().UTC()
	}
	c.append(msg)
	return true
}

// AppendLocal optimistically appends a user-authored message before the
// backend acknowledges it, tagged pending. The returned copy carries the
// generated identity so the send path and a later replay can find it.
func (c *Channel) AppendLocal(content string) models.ChatMessage {
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: c.now().UTC(),
		Delivery:  models.DeliveryPending,
	}

	c.mu.Lock()
	c.append(msg)
	c.mu.Unlock()
	return msg
}

// MarkFailed flags the identified message as failed so the send error is
// surfaced on the specific message instead of leaving silent inconsistency.
func (c *Channel) MarkFailed(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.seen[id]
	if !ok {
		return false
	}
	c.messages[at].Delivery = models.DeliveryFailed
	return true
}

// SignalTyping sets the composing flag and schedules its clear. Each call
// re-arms a fresh fixed-duration timer; only the most recently scheduled
// clear wins, earlier timers find a newer generation and do nothing.
func (c *Channel) SignalTyping() {
	c.mu.Lock()
	c.typing = true
	c.typingGen++
	gen := c.typingGen
	ttl := c.typingTTL
	c.mu.Unlock()

	time.AfterFunc(ttl, func() {
		c.mu.Lock()
		stale := c.typingGen != gen
		if !stale {
			c.typing = false
		}
		c.mu.Unlock()
		if !stale {
			c.notify()
		}
	})
}

// Typing reports whether the agent is currently composing.
func (c *Channel) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Snapshot returns a copy of the transcript in arrival order.
func (c *Channel) Snapshot() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the transcript length.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Reset clears the transcript and the typing flag. Any armed clear timer is
// invalidated by the generation bump.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = c.messages[:0]
	c.seen = make(map[string]int)
	c.typing = false
	c.typingGen++
}

// append assumes the lock is held. The transcript grows monotonically by
// arrival order; beyond the cap the oldest messages are evicted.
func (c *Channel) append(msg models.ChatMessage) {
	c.messages = append(c.messages, msg)
	c.seen[msg.ID] = len(c.messages) - 1
	if len(c.messages) > c.cap {
		excess := len(c.messages) - c.cap
		for _, old := range c.messages[:excess] {
			delete(c.seen, old.ID)
		}
		c.messages = append(c.messages[:0], c.messages[excess:]...)
		for i, m := range c.messages {
			c.seen[m.ID] = i
		}
	}
}
