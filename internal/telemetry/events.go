// Package telemetry observes cache activity: it never gates or backs the
// cache index, it only reports on it. A Collector publishes events
// fire-and-forget to Kafka; a separate Aggregator consumes them into rolling
// statistics and periodically snapshots those statistics to Postgres.
package telemetry

import "time"

// Kind identifies the shape of an Event.
type Kind string

const (
	KindCacheHit         Kind = "cache_hit"
	KindCacheMiss        Kind = "cache_miss"
	KindCacheBypass      Kind = "cache_bypass"
	KindCacheMaterialize Kind = "cache_materialize"
	KindCacheInvalidate  Kind = "cache_invalidate"
)

// InvalidateReason explains why a CacheInvalidate event fired.
type InvalidateReason string

const (
	ReasonTTL    InvalidateReason = "ttl"
	ReasonManual InvalidateReason = "manual"
	ReasonProbe  InvalidateReason = "probe"
)

// Event is the wire shape of every telemetry record, JSON-encoded onto the
// Kafka topic. Only the fields relevant to Kind are populated.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Signature string    `json:"signature,omitempty"`
	CubeName  string    `json:"cube_name,omitempty"`
	RowCount  int64     `json:"row_count,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`
	Reason    InvalidateReason `json:"reason,omitempty"`
}
