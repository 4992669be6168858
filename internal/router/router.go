// Package router implements the QueryRouter: the per-request pipeline that
// admits, canonicalizes, and routes a raw SQL query through the cache,
// materializing a hypercube on the first request for a grouping signature
// and serving every subsequent compatible request from it.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/hcproxy/hypercube-proxy/internal/backingstore"
	"github.com/hcproxy/hypercube-proxy/internal/cacheindex"
	"github.com/hcproxy/hypercube-proxy/internal/canon"
	"github.com/hcproxy/hypercube-proxy/internal/cubestore"
	"github.com/hcproxy/hypercube-proxy/internal/gate"
	"github.com/hcproxy/hypercube-proxy/internal/telemetry"
	"github.com/hcproxy/hypercube-proxy/pkg/tracing"
)

// Collector is the subset of telemetry.Collector the router needs.
type Collector interface {
	Track(event telemetry.Event)
}

// CubeReader is the subset of cubestore.CubeStore the router needs to read
// and materialize cubes.
type CubeReader interface {
	Read(ctx context.Context, cubeName string) (cubestore.Rowset, error)
	Materialize(ctx context.Context, cubeName string, rowset cubestore.Rowset) (int64, error)
}

// Result is the outcome of routing one query, reported back to the caller
// along with whether it was served from cache.
type Result struct {
	Rowset cubestore.Rowset
	Cached bool
}

// QueryRouter implements the full gate -> canonicalize -> signature ->
// cache-or-fetch-and-fill pipeline for one CacheIndex/CubeStore pair.
type QueryRouter struct {
	store     backingstore.Store
	cubes     CubeReader
	index     *cacheindex.CacheIndex
	collector Collector
	gate      *materializationGate
}

// New builds a QueryRouter over the given collaborators. collector may be
// nil, in which case telemetry is skipped.
func New(store backingstore.Store, cubes CubeReader, index *cacheindex.CacheIndex, collector Collector) *QueryRouter {
	return &QueryRouter{
		store:     store,
		cubes:     cubes,
		index:     index,
		collector: collector,
		gate:      newMaterializationGate(),
	}
}

// Query routes raw SQL through the pipeline and returns its result.
func (r *QueryRouter) Query(ctx context.Context, rawSQL string) (Result, error) {
	ctx, span := tracing.StartChildSpan(ctx, "router.query")
	defer span.End()

	if err := gate.Admit(rawSQL); err != nil {
		return Result{}, err
	}

	_, normalizeSpan := tracing.StartChildSpan(ctx, "router.canonicalize")
	normalized := canon.Normalize(rawSQL)
	rewritten := canon.Rewrite(normalized)
	signature := canon.GroupingSignature(rewritten)
	normalizeSpan.SetAttr("rewritten", rewritten)
	normalizeSpan.End()

	if signature == nil {
		return r.bypass(ctx, rewritten)
	}

	// CubeName is an injective function of the signature, so it doubles as
	// the CacheIndex key and the materialization gate key: two requests
	// whose grouping signatures differ can never collide on either.
	sigKey := cubestore.CubeName(signature)
	release := r.gate.acquire(sigKey)
	defer release()

	if entry, ok := r.index.Lookup(sigKey); ok {
		return r.servedFromCube(ctx, entry.CubeName, sigKey, true)
	}

	return r.materialize(ctx, rewritten, sigKey)
}

func (r *QueryRouter) bypass(ctx context.Context, query string) (Result, error) {
	_, span := tracing.StartChildSpan(ctx, "router.bypass")
	defer span.End()

	rowset, err := r.store.Fetch(ctx, query)
	if err != nil {
		return Result{}, err
	}
	r.track(telemetry.Event{Kind: telemetry.KindCacheBypass, Timestamp: time.Now()})
	return Result{Rowset: rowset, Cached: false}, nil
}

func (r *QueryRouter) servedFromCube(ctx context.Context, cubeName, signature string, cached bool) (Result, error) {
	_, span := tracing.StartChildSpan(ctx, "router.read_cube")
	defer span.End()

	rowset, err := r.cubes.Read(ctx, cubeName)
	if err != nil {
		return Result{}, fmt.Errorf("reading cube %s: %w", cubeName, err)
	}
	r.track(telemetry.Event{Kind: telemetry.KindCacheHit, Signature: signature, CubeName: cubeName, Timestamp: time.Now()})
	return Result{Rowset: rowset, Cached: cached}, nil
}

func (r *QueryRouter) materialize(ctx context.Context, query, signature string) (Result, error) {
	_, span := tracing.StartChildSpan(ctx, "router.materialize")
	defer span.End()

	r.track(telemetry.Event{Kind: telemetry.KindCacheMiss, Signature: signature, Timestamp: time.Now()})

	start := time.Now()
	rowset, err := r.store.Fetch(ctx, query)
	if err != nil {
		return Result{}, err
	}

	cubeName := signature
	rowCount, err := r.cubes.Materialize(ctx, cubeName, rowset)
	if err != nil {
		return Result{}, fmt.Errorf("materializing cube %s: %w", cubeName, err)
	}
	r.index.Insert(signature, cubeName, rowCount)

	r.track(telemetry.Event{
		Kind:       telemetry.KindCacheMaterialize,
		Signature:  signature,
		CubeName:   cubeName,
		RowCount:   rowCount,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  time.Now(),
	})
	span.SetAttr("row_count", rowCount)

	return Result{Rowset: rowset, Cached: false}, nil
}

func (r *QueryRouter) track(event telemetry.Event) {
	if r.collector != nil {
		r.collector.Track(event)
	}
}
