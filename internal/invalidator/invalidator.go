// Package invalidator runs a periodic probe against the backing store and
// flushes the cache index whenever the probe's scalar result changes,
// catching upstream data changes that no cache entry's TTL would otherwise
// notice in time.
package invalidator

import (
	"context"
	"log/slog"
	"time"
)

// ScalarFetcher is the subset of backingstore.Store the invalidator needs.
type ScalarFetcher interface {
	FetchScalar(ctx context.Context, sql string) (string, error)
}

// Flusher is the subset of cacheindex.CacheIndex the invalidator needs.
type Flusher interface {
	FlushAll() error
}

// OnFlush is invoked after a successful flush, e.g. to broadcast the event to
// other replicas or to telemetry. May be nil.
type OnFlush func()

// Invalidator periodically probes the backing store and flushes the cache
// index on a detected change. It is inert (Run returns immediately) unless
// both Query and Interval are set.
type Invalidator struct {
	store    ScalarFetcher
	index    Flusher
	query    string
	interval time.Duration
	onFlush  OnFlush
	logger   *slog.Logger

	lastValue string
	hasValue  bool
}

// New builds an Invalidator. query and interval come directly from
// configuration; an empty query or a non-positive interval makes Run a no-op.
func New(store ScalarFetcher, index Flusher, query string, interval time.Duration, onFlush OnFlush) *Invalidator {
	return &Invalidator{
		store:    store,
		index:    index,
		query:    query,
		interval: interval,
		onFlush:  onFlush,
		logger:   slog.Default().With("component", "invalidator"),
	}
}

// Enabled reports whether this Invalidator was configured to run.
func (inv *Invalidator) Enabled() bool {
	return inv.query != "" && inv.interval > 0
}

// Run enters the probe loop, ticking every interval until ctx is cancelled.
// It never returns an error: every probe failure is logged and the loop
// continues to the next tick.
func (inv *Invalidator) Run(ctx context.Context) {
	if !inv.Enabled() {
		return
	}

	ticker := time.NewTicker(inv.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inv.tick(ctx)
		}
	}
}

func (inv *Invalidator) tick(ctx context.Context) {
	value, err := inv.store.FetchScalar(ctx, inv.query)
	if err != nil {
		inv.logger.Warn("probe query failed, skipping tick", "error", err)
		return
	}

	if !inv.hasValue {
		inv.lastValue = value
		inv.hasValue = true
		return
	}

	if value == inv.lastValue {
		return
	}

	inv.logger.Info("probe value changed, flushing cache", "previous", inv.lastValue, "current", value)
	if err := inv.index.FlushAll(); err != nil {
		inv.logger.Warn("flush after probe change failed, retaining recorded value", "error", err)
		return
	}
	inv.lastValue = value

	if inv.onFlush != nil {
		inv.onFlush()
	}
}
