package telemetry

import (
	"context"
	"encoding/json"
	"testing"
)

func handleRaw(t *testing.T, a *Aggregator, event Event) {
	t.Helper()
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := a.handle(context.Background(), nil, value); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
}

func TestAggregatorTracksHitsAndSignatures(t *testing.T) {
	a := &Aggregator{sigHitCount: make(map[string]int64)}

	handleRaw(t, a, Event{Kind: KindCacheHit, Signature: "region"})
	handleRaw(t, a, Event{Kind: KindCacheHit, Signature: "region"})
	handleRaw(t, a, Event{Kind: KindCacheHit, Signature: "product"})
	handleRaw(t, a, Event{Kind: KindCacheMiss})
	handleRaw(t, a, Event{Kind: KindCacheBypass})
	handleRaw(t, a, Event{Kind: KindCacheMaterialize, DurationMs: 100})
	handleRaw(t, a, Event{Kind: KindCacheMaterialize, DurationMs: 300})

	snapshot := a.Snapshot(1)
	if snapshot.Hits != 3 {
		t.Errorf("Hits = %d, want 3", snapshot.Hits)
	}
	if snapshot.Misses != 1 || snapshot.Bypasses != 1 {
		t.Errorf("Misses/Bypasses = %d/%d, want 1/1", snapshot.Misses, snapshot.Bypasses)
	}
	if snapshot.Materializations != 2 || snapshot.AvgMaterializeMs != 200 {
		t.Errorf("Materializations/AvgMs = %d/%v, want 2/200", snapshot.Materializations, snapshot.AvgMaterializeMs)
	}
	if len(snapshot.TopSignatures) != 1 || snapshot.TopSignatures[0].Signature != "region" {
		t.Errorf("TopSignatures = %+v, want [region]", snapshot.TopSignatures)
	}
}

func TestAggregatorInvalidateClearsSignatureHistory(t *testing.T) {
	a := &Aggregator{sigHitCount: make(map[string]int64)}
	handleRaw(t, a, Event{Kind: KindCacheHit, Signature: "region"})
	handleRaw(t, a, Event{Kind: KindCacheInvalidate, Reason: ReasonManual})

	snapshot := a.Snapshot(10)
	if snapshot.Invalidations != 1 {
		t.Errorf("Invalidations = %d, want 1", snapshot.Invalidations)
	}
	if len(snapshot.TopSignatures) != 0 {
		t.Errorf("TopSignatures = %+v, want empty after invalidate", snapshot.TopSignatures)
	}
}
