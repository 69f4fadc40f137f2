// Package dedupe suppresses redundant translation calls for unchanged text.
package dedupe

import (
	"strings"
	"time"
)

// DefaultTTL is the window after which identical text is translated again.
const DefaultTTL = 5 * time.Second

type entry struct {
	text string
	seen time.Time
}

// Cache is a single-slot, time-windowed change detector. It remembers only
// the most recent non-empty text and the time it was seen. It is confined
// to the engine's poll goroutine and needs no locking.
type Cache struct {
	ttl   time.Duration
	entry *entry
	now   func() time.Time
}

// New creates a cache with the given time-to-live. Non-positive TTL falls
// back to DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, now: time.Now}
}

// ShouldTranslate reports whether text is new enough to warrant a
// translation call. Text is normalized first (trimmed, internal whitespace
// runs collapsed to single spaces); empty normalized text never translates
// and never touches the stored entry. Otherwise the stored entry is
// replaced and true returned when the text changed or the entry's age
// exceeds the TTL.
func (c *Cache) ShouldTranslate(text string) bool {
	normalized := normalize(text)
	if normalized == "" {
		return false
	}

	now := c.now()
	if c.entry == nil {
		c.entry = &entry{text: normalized, seen: now}
		return true
	}

	if normalized != c.entry.text || now.Sub(c.entry.seen) > c.ttl {
		c.entry = &entry{text: normalized, seen: now}
		return true
	}

	return false
}

// normalize trims and collapses whitespace runs to single spaces.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
