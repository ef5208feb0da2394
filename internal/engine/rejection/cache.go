// Package rejection implements the per-document negative cache that sits
// between candidate generation and scoring. A span rejected once is not
// re-scored on later appearances in the same document, unless the document
// has moved to a different segment or the surrounding context has shifted
// enough that the old verdict no longer applies.
package rejection

import (
	"strings"
	"time"

	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
)

// Reason classifies why a span was rejected.
type Reason string

const (
	ReasonNoEntityMatch  Reason = "no_entity_match"
	ReasonLowRelevance   Reason = "low_relevance"
	ReasonBelowThreshold Reason = "below_threshold"
)

const (
	// DefaultMaxSize bounds the cache; insertion past it evicts FIFO.
	DefaultMaxSize = 1000

	// contextShiftThreshold is the minimum Jaccard similarity between the
	// recorded and current context keyword sets for a hit to be honored.
	contextShiftThreshold = 0.3

	// keywordMinLength filters context words down to content-bearing ones.
	keywordMinLength = 5
)

// Entry records one rejection.
type Entry struct {
	Span       string
	Reason     Reason
	Context    string
	RejectedAt time.Time
	Segment    int
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    int64
	Misses  int64
	Size    int
	Segment int
}

// HitRate returns hits over total lookups, zero when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a per-document rejection cache. It assumes single-writer,
// sequential progression through the document and is not synchronized.
type Cache struct {
	entries map[string]*Entry
	order   []string // insertion order, oldest first
	maxSize int

	segment int
	hits    int64
	misses  int64

	logger logging.Logger
	now    func() time.Time
}

// New creates a cache for one document. maxSize <= 0 selects
// DefaultMaxSize; a nil logger falls back to the nop logger.
func New(maxSize int, logger logging.Logger) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Cache{
		entries: make(map[string]*Entry),
		maxSize: maxSize,
		logger:  logger.Named("rejection"),
		now:     time.Now,
	}
}

// ShouldReject reports whether the span was previously rejected and that
// verdict still applies. A recorded rejection is honored only when the
// document segment matches and the context has not shifted; otherwise the
// stale entry is evicted and the span goes back through scoring.
func (c *Cache) ShouldReject(span, context string) bool {
	key := normalizeSpan(span)
	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return false
	}

	if entry.Segment != c.segment || contextShifted(entry.Context, context) {
		c.evict(key)
		c.misses++
		return false
	}

	c.hits++
	return true
}

// AddRejection records the span as rejected in the current segment,
// evicting the oldest entry first when the cache is full. Re-rejecting an
// already-cached span refreshes it in place.
func (c *Cache) AddRejection(span string, reason Reason, context string) {
	key := normalizeSpan(span)
	if key == "" {
		return
	}
	if existing, ok := c.entries[key]; ok {
		existing.Reason = reason
		existing.Context = context
		existing.RejectedAt = c.now()
		existing.Segment = c.segment
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evict(c.order[0])
	}
	c.entries[key] = &Entry{
		Span:       key,
		Reason:     reason,
		Context:    context,
		RejectedAt: c.now(),
		Segment:    c.segment,
	}
	c.order = append(c.order, key)
}

// OnSegmentBoundary advances the segment counter; callers invoke it on
// paragraph transitions.
func (c *Cache) OnSegmentBoundary() {
	c.segment++
}

// OnHighConfidenceEntity evicts the most recently inserted tenth of the
// cache. A confirmed high-confidence match suggests the recent negative
// verdicts in its vicinity may be stale.
func (c *Cache) OnHighConfidenceEntity() {
	n := len(c.order) / 10
	if n == 0 && len(c.order) > 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		c.evict(c.order[len(c.order)-1])
	}
	if n > 0 {
		c.logger.Debug("recent rejections invalidated", logging.Int("evicted", n))
	}
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.entries), Segment: c.segment}
}

// Len returns the number of cached rejections.
func (c *Cache) Len() int {
	return len(c.entries)
}

func (c *Cache) evict(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func normalizeSpan(span string) string {
	return strings.Join(strings.Fields(strings.ToLower(span)), " ")
}

// contextShifted measures Jaccard similarity of the content keyword sets of
// the two contexts. Below the threshold the surrounding prose has changed
// enough to invalidate the old verdict. Two keyword-free contexts count as
// unshifted.
func contextShifted(old, current string) bool {
	a := keywords(old)
	b := keywords(current)
	if len(a) == 0 && len(b) == 0 {
		return false
	}

	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection)/float64(union) < contextShiftThreshold
}

func keywords(context string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(context)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) >= keywordMinLength {
			set[w] = struct{}{}
		}
	}
	return set
}
