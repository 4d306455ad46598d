package contextwindow

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/haasonsaas/deepplan/pkg/models"
)

// analysisCache is a bounded TTL cache for analysis results. The mutex is
// held only for O(1) map operations; entries are immutable once stored.
type analysisCache struct {
	mu      sync.Mutex
	entries map[uint64]cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	metrics  Metrics
	storedAt time.Time
}

func newAnalysisCache(maxSize int, ttl time.Duration) *analysisCache {
	return &analysisCache{
		entries: make(map[uint64]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *analysisCache) get(key uint64) (Metrics, bool) {
	if c.ttl <= 0 {
		return Metrics{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Metrics{}, false
	}
	if time.Since(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return Metrics{}, false
	}
	return entry.metrics, true
}

func (c *analysisCache) put(key uint64, metrics Metrics) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{metrics: metrics, storedAt: time.Now()}
	for len(c.entries) > c.maxSize {
		var oldestKey uint64
		var oldest time.Time
		first := true
		for k, e := range c.entries {
			if first || e.storedAt.Before(oldest) {
				oldestKey, oldest = k, e.storedAt
				first = false
			}
		}
		delete(c.entries, oldestKey)
	}
}

// structuralHash fingerprints a message list and model id. Any change to
// roles, names, tool calls, or content produces a different key, so the cache
// invalidates implicitly when the input changes.
func structuralHash(messages []models.Message, model string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(model))
	for _, msg := range messages {
		h.Write([]byte{0})
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Name))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		for _, tc := range msg.ToolCalls {
			h.Write([]byte{1})
			h.Write([]byte(tc.Name))
			h.Write(tc.Input)
		}
		h.Write([]byte(strconv.Itoa(len(msg.ToolCalls))))
	}
	return h.Sum64()
}
