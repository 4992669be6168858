package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hcproxy/hypercube-proxy/internal/cacheindex"
	"github.com/hcproxy/hypercube-proxy/internal/cubestore"
)

type fakeStore struct {
	mu        sync.Mutex
	fetches   int
	rowset    cubestore.Rowset
	fetchErr  error
}

func (f *fakeStore) Fetch(ctx context.Context, sql string) (cubestore.Rowset, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	if f.fetchErr != nil {
		return cubestore.Rowset{}, f.fetchErr
	}
	return f.rowset, nil
}

func (f *fakeStore) FetchScalar(ctx context.Context, sql string) (string, error) { return "", nil }
func (f *fakeStore) Ping(ctx context.Context) error                             { return nil }

func (f *fakeStore) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeCubes struct {
	mu    sync.Mutex
	cubes map[string]cubestore.Rowset
}

func newFakeCubes() *fakeCubes { return &fakeCubes{cubes: make(map[string]cubestore.Rowset)} }

func (f *fakeCubes) Read(ctx context.Context, cubeName string) (cubestore.Rowset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rowset, ok := f.cubes[cubeName]
	if !ok {
		return cubestore.Rowset{}, fmt.Errorf("no such cube %s", cubeName)
	}
	return rowset, nil
}

func (f *fakeCubes) Materialize(ctx context.Context, cubeName string, rowset cubestore.Rowset) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cubes[cubeName]; ok {
		return 0, cubestore.ErrCubeExists
	}
	f.cubes[cubeName] = rowset
	return int64(len(rowset.Rows)), nil
}

type fakeDropper struct{}

func (fakeDropper) Drop(cubeName string) error { return nil }
func (fakeDropper) DropAll() error              { return nil }

func newTestRouter(store *fakeStore, cubes *fakeCubes) *QueryRouter {
	index := cacheindex.New(0, fakeDropper{}, nil)
	return New(store, cubes, index, nil)
}

func TestQueryBypassesCacheWithoutGroupBy(t *testing.T) {
	store := &fakeStore{rowset: cubestore.Rowset{Columns: []string{"x"}, Rows: [][]any{{int64(1)}}}}
	cubes := newFakeCubes()
	r := newTestRouter(store, cubes)

	result, err := r.Query(context.Background(), "SELECT x FROM facts")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Cached {
		t.Error("Cached = true, want false for a non-GROUP-BY query")
	}
	if store.fetchCount() != 1 {
		t.Errorf("fetchCount = %d, want 1", store.fetchCount())
	}
}

func TestQueryMaterializesOnFirstRequestAndHitsOnSecond(t *testing.T) {
	store := &fakeStore{rowset: cubestore.Rowset{
		Columns: []string{"region", "total"},
		Rows:    [][]any{{"us", int64(10)}},
	}}
	cubes := newFakeCubes()
	r := newTestRouter(store, cubes)

	first, err := r.Query(context.Background(), "SELECT region, sum(total) AS total FROM facts GROUP BY region")
	if err != nil {
		t.Fatalf("first Query() error = %v", err)
	}
	if first.Cached {
		t.Error("first Query() Cached = true, want false (materialization)")
	}

	second, err := r.Query(context.Background(), "SELECT region, sum(total) AS total FROM facts GROUP BY region")
	if err != nil {
		t.Fatalf("second Query() error = %v", err)
	}
	if !second.Cached {
		t.Error("second Query() Cached = false, want true (cache hit)")
	}
	if store.fetchCount() != 1 {
		t.Errorf("fetchCount = %d, want 1 (second request should not reach backing store)", store.fetchCount())
	}
}

func TestQueryRejectsMutatingSQL(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCubes())
	if _, err := r.Query(context.Background(), "DELETE FROM facts"); err == nil {
		t.Fatal("Query() error = nil, want rejection for a mutating statement")
	}
}

func TestQueryRewriteCollapsesEquivalentGroupByOrder(t *testing.T) {
	store := &fakeStore{rowset: cubestore.Rowset{Columns: []string{"a", "b"}, Rows: [][]any{{"x", "y"}}}}
	cubes := newFakeCubes()
	r := newTestRouter(store, cubes)

	if _, err := r.Query(context.Background(), "SELECT a, b FROM t GROUP BY a, b"); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	second, err := r.Query(context.Background(), "SELECT a, b FROM t GROUP BY b, a")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !second.Cached {
		t.Error("differently-ordered GROUP BY should share a cube, want cache hit")
	}
}

func TestQueryConcurrentFanoutCollapsesIntoOneMaterialization(t *testing.T) {
	store := &fakeStore{rowset: cubestore.Rowset{Columns: []string{"a"}, Rows: [][]any{{int64(1)}}}}
	cubes := newFakeCubes()
	r := newTestRouter(store, cubes)

	var wg sync.WaitGroup
	var errs atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Query(context.Background(), "SELECT a FROM t GROUP BY a"); err != nil {
				errs.Add(1)
			}
		}()
	}
	wg.Wait()

	if errs.Load() != 0 {
		t.Fatalf("%d queries failed", errs.Load())
	}
	if store.fetchCount() != 1 {
		t.Errorf("fetchCount = %d, want exactly 1 under concurrent fanout", store.fetchCount())
	}
}
