package telemetry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hcproxy/hypercube-proxy/pkg/kafka"
)

// Snapshot is a point-in-time view of the rolling statistics an Aggregator
// maintains, suitable for JSON serialization and Postgres persistence.
type Snapshot struct {
	TakenAt            time.Time        `json:"taken_at"`
	Hits               int64            `json:"hits"`
	Misses             int64            `json:"misses"`
	Bypasses           int64            `json:"bypasses"`
	Materializations   int64            `json:"materializations"`
	Invalidations      int64            `json:"invalidations"`
	AvgMaterializeMs   float64          `json:"avg_materialize_ms"`
	TopSignatures      []SignatureCount `json:"top_signatures"`
}

// SignatureCount pairs a grouping signature with its observed hit count.
type SignatureCount struct {
	Signature string `json:"signature"`
	Hits      int64  `json:"hits"`
}

// Aggregator consumes telemetry Events from Kafka and maintains rolling
// counters and a per-signature hit histogram in memory.
type Aggregator struct {
	consumer *kafka.Consumer

	hits             atomic.Int64
	misses           atomic.Int64
	bypasses         atomic.Int64
	materializations atomic.Int64
	invalidations    atomic.Int64
	materializeSumMs atomic.Int64

	mu          sync.Mutex
	sigHitCount map[string]int64
}

// NewAggregator creates an Aggregator that consumes from brokers/topic under
// the given consumer group.
func NewAggregator(brokers []string, topic, groupID string) *Aggregator {
	a := &Aggregator{
		sigHitCount: make(map[string]int64),
	}
	a.consumer = kafka.NewConsumer(brokers, topic, groupID, a.handle)
	return a
}

// Run enters the consume loop until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	return a.consumer.Start(ctx)
}

// Close stops the underlying Kafka consumer.
func (a *Aggregator) Close() error {
	return a.consumer.Close()
}

func (a *Aggregator) handle(_ context.Context, _ []byte, value []byte) error {
	event, err := kafka.DecodeJSON[Event](value)
	if err != nil {
		return err
	}

	switch event.Kind {
	case KindCacheHit:
		a.hits.Add(1)
		a.recordSignatureHit(event.Signature)
	case KindCacheMiss:
		a.misses.Add(1)
	case KindCacheBypass:
		a.bypasses.Add(1)
	case KindCacheMaterialize:
		a.materializations.Add(1)
		a.materializeSumMs.Add(event.DurationMs)
	case KindCacheInvalidate:
		a.invalidations.Add(1)
		a.mu.Lock()
		a.sigHitCount = make(map[string]int64)
		a.mu.Unlock()
	}
	return nil
}

func (a *Aggregator) recordSignatureHit(signature string) {
	if signature == "" {
		return
	}
	a.mu.Lock()
	a.sigHitCount[signature]++
	a.mu.Unlock()
}

// Snapshot returns the current rolling statistics, including the topN
// grouping signatures by hit count.
func (a *Aggregator) Snapshot(topN int) Snapshot {
	materializations := a.materializations.Load()
	avgMs := 0.0
	if materializations > 0 {
		avgMs = float64(a.materializeSumMs.Load()) / float64(materializations)
	}

	a.mu.Lock()
	counts := make([]SignatureCount, 0, len(a.sigHitCount))
	for sig, hits := range a.sigHitCount {
		counts = append(counts, SignatureCount{Signature: sig, Hits: hits})
	}
	a.mu.Unlock()

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Hits != counts[j].Hits {
			return counts[i].Hits > counts[j].Hits
		}
		return counts[i].Signature < counts[j].Signature
	})
	if topN > 0 && len(counts) > topN {
		counts = counts[:topN]
	}

	return Snapshot{
		TakenAt:          time.Now(),
		Hits:             a.hits.Load(),
		Misses:           a.misses.Load(),
		Bypasses:         a.bypasses.Load(),
		Materializations: materializations,
		Invalidations:    a.invalidations.Load(),
		AvgMaterializeMs: avgMs,
		TopSignatures:    counts,
	}
}
