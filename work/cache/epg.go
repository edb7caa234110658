package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// EPGCache holds rendered guide documents (archive listings and localized XMLTV)
// for a short TTL. Entries are keyed by the caller and already serialized.
type EPGCache struct {
	cache    *otter.Cache[string, []byte]
	duration time.Duration
}

// NewEPGCache creates a cache bounded to maxEntries documents that expire
// duration after they were written.
func NewEPGCache(duration time.Duration, maxEntries int) *EPGCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	c := otter.Must(&otter.Options[string, []byte]{
		MaximumSize:      maxEntries,
		ExpiryCalculator: otter.ExpiryWriting[string, []byte](duration),
	})

	return &EPGCache{
		cache:    c,
		duration: duration,
	}
}

// Get returns the cached document for key.
func (ec *EPGCache) Get(key string) ([]byte, bool) {
	return ec.cache.GetIfPresent(key)
}

// Set stores a document under key.
func (ec *EPGCache) Set(key string, value []byte) {
	ec.cache.Set(key, value)
}

// Invalidate drops a single document.
func (ec *EPGCache) Invalidate(key string) {
	ec.cache.Invalidate(key)
}

// Clear drops every cached document.
func (ec *EPGCache) Clear() {
	ec.cache.InvalidateAll()
}

// Size returns the approximate number of cached documents.
func (ec *EPGCache) Size() int {
	return ec.cache.EstimatedSize()
}

// Duration returns the configured TTL.
func (ec *EPGCache) Duration() time.Duration {
	return ec.duration
}
