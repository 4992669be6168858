// Package cacheindex owns the mapping from a grouping signature to the
// materialized cube that answers it, along with hit/miss bookkeeping and
// TTL-based expiry. It is a single owned in-process aggregate: there is no
// module-level singleton, and every QueryRouter holds its own reference.
package cacheindex

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hcproxy/hypercube-proxy/pkg/metrics"
)

// Entry describes one materialized hypercube bound to a grouping signature.
type Entry struct {
	Signature string
	CubeName  string
	RowCount  int64
	CreatedAt time.Time
	LastHitAt time.Time
	Hits      int64
}

func (e *Entry) expired(ttl time.Time) bool {
	return e.CreatedAt.Before(ttl)
}

// CubeDropper is the subset of CubeStore that CacheIndex needs in order to
// keep the cube store and the index bijective (invariant: every live entry
// names exactly one live cube, and vice versa).
type CubeDropper interface {
	Drop(cubeName string) error
	DropAll() error
}

// Stats is a read-only snapshot of cache activity.
type Stats struct {
	Size   int
	Hits   int64
	Misses int64
}

// CacheIndex is the single owned in-process cache of signature -> entry.
type CacheIndex struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	cubes   CubeDropper
	metrics *metrics.Metrics

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an empty CacheIndex with the given entry TTL. cubes is used to
// drop the backing cube when an entry expires or is flushed; m may be nil in
// tests that don't care about metrics.
func New(ttl time.Duration, cubes CubeDropper, m *metrics.Metrics) *CacheIndex {
	return &CacheIndex{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		cubes:   cubes,
		metrics: m,
	}
}

// Lookup returns the live entry for signature, or (nil, false) on a miss. An
// expired entry is removed and its cube dropped before reporting Miss.
func (c *CacheIndex) Lookup(signature string) (*Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[signature]
	c.mu.RUnlock()

	if ok && c.ttl > 0 && entry.expired(time.Now().Add(-c.ttl)) {
		c.mu.Lock()
		if current, stillThere := c.entries[signature]; stillThere && current == entry {
			delete(c.entries, signature)
			if err := c.cubes.Drop(entry.CubeName); err != nil {
				slog.Default().With("component", "cacheindex").Warn(
					"failed to drop expired cube", "cube", entry.CubeName, "error", err)
			}
			if c.metrics != nil {
				c.metrics.TablesCached.Set(float64(len(c.entries)))
			}
		}
		c.mu.Unlock()
		ok = false
	}

	if !ok {
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.Inc()
		}
		return nil, false
	}

	c.mu.Lock()
	entry.LastHitAt = time.Now()
	entry.Hits++
	c.mu.Unlock()

	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return entry, true
}

// Insert atomically binds signature to a new entry for cubeName with
// rowCount rows. The caller must already have materialized the cube in the
// CubeStore and must hold the signature's materialization gate.
func (c *CacheIndex) Insert(signature, cubeName string, rowCount int64) {
	now := time.Now()
	c.mu.Lock()
	c.entries[signature] = &Entry{
		Signature: signature,
		CubeName:  cubeName,
		RowCount:  rowCount,
		CreatedAt: now,
		LastHitAt: now,
	}
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.TablesCached.Set(float64(size))
	}
}

// FlushAll removes every entry and instructs the cube store to drop every
// cube. It excludes all readers for its duration, so it is observably atomic
// with respect to Lookup.
func (c *CacheIndex) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cubes.DropAll(); err != nil {
		return err
	}
	c.entries = make(map[string]*Entry)
	if c.metrics != nil {
		c.metrics.TablesCached.Set(0)
	}
	return nil
}

// Keys returns every signature currently cached.
func (c *CacheIndex) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Stats returns a snapshot of cache size and cumulative hit/miss counts.
func (c *CacheIndex) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Size:   size,
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}
