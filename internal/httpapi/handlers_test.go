package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hcproxy/hypercube-proxy/internal/auth/apikey"
	"github.com/hcproxy/hypercube-proxy/internal/cacheindex"
	"github.com/hcproxy/hypercube-proxy/internal/cubestore"
	"github.com/hcproxy/hypercube-proxy/internal/gate"
	"github.com/hcproxy/hypercube-proxy/internal/router"
)

type fakeRouter struct {
	result router.Result
	err    error
}

func (f *fakeRouter) Query(ctx context.Context, rawSQL string) (router.Result, error) {
	return f.result, f.err
}

type fakeIndex struct {
	flushCalls int
	stats      cacheindex.Stats
}

func (f *fakeIndex) FlushAll() error {
	f.flushCalls++
	return nil
}

func (f *fakeIndex) Stats() cacheindex.Stats { return f.stats }

type fakeKeys struct{}

func (fakeKeys) Validate(ctx context.Context, rawKey string) (*apikey.KeyInfo, error) {
	if rawKey == "valid-key" {
		return &apikey.KeyInfo{ID: "1", Name: "test"}, nil
	}
	return nil, apikey.ErrInvalidKey
}

func (fakeKeys) CreateKey(ctx context.Context, name string, rateLimit int, expiresAt *time.Time) (string, error) {
	return "raw-key-abc", nil
}

func (fakeKeys) ListKeys(ctx context.Context) ([]apikey.KeyInfo, error) {
	return []apikey.KeyInfo{{ID: "1", Name: "test"}}, nil
}

type alwaysAllowLimiter struct{}

func (alwaysAllowLimiter) Allow(key string, limit int) bool { return true }

func newTestHandler(t *testing.T, rt Router, idx CacheAdmin, apiKeyRequired bool) *Handler {
	t.Helper()
	return NewHandler(Config{
		Router:             rt,
		Index:              idx,
		SourceTable:        "public.facts_agg",
		Keys:               fakeKeys{},
		Limiter:            alwaysAllowLimiter{},
		APIKeyRequired:     apiKeyRequired,
		RateLimitPerMinute: 600,
	})
}

func TestHandleQueryReturnsCSV(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Rowset: cubestore.Rowset{
		Columns: []string{"region", "total"},
		Rows:    [][]any{{"us", int64(10)}},
	}}}
	h := newTestHandler(t, rt, &fakeIndex{}, false)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"sql":"SELECT region, sum(total) FROM facts GROUP BY region"}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "region,total") {
		t.Errorf("body = %q, want CSV header", rec.Body.String())
	}
}

func TestHandleQueryRejectedByAdmissionGateReturns400(t *testing.T) {
	rt := &fakeRouter{err: gate.Admit("DELETE FROM facts")}
	h := newTestHandler(t, rt, &fakeIndex{}, false)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"sql":"DELETE FROM facts"}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCubeJSONBuildsGroupByQuery(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Rowset: cubestore.Rowset{
		Columns: []string{"region"},
		Rows:    [][]any{{"us"}},
	}}}
	h := newTestHandler(t, rt, &fakeIndex{}, false)

	req := httptest.NewRequest(http.MethodGet, "/cube.json?dims=region", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"region":"us"`) {
		t.Errorf("body = %q, want JSON row", rec.Body.String())
	}
}

func TestHandleCubeRejectsMissingDims(t *testing.T) {
	h := newTestHandler(t, &fakeRouter{}, &fakeIndex{}, false)

	req := httptest.NewRequest(http.MethodGet, "/cube", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAdminRouteRequiresAPIKeyWhenRequired(t *testing.T) {
	h := newTestHandler(t, &fakeRouter{}, &fakeIndex{}, true)

	req := httptest.NewRequest(http.MethodPost, "/admin/cache/flush", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without an API key", rec.Code)
	}
}

func TestAdminRouteSucceedsWithValidAPIKey(t *testing.T) {
	idx := &fakeIndex{}
	h := newTestHandler(t, &fakeRouter{}, idx, true)

	req := httptest.NewRequest(http.MethodPost, "/admin/cache/flush", nil)
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	if idx.flushCalls != 1 {
		t.Errorf("flushCalls = %d, want 1", idx.flushCalls)
	}
}

func TestPingReportsCacheSize(t *testing.T) {
	idx := &fakeIndex{stats: cacheindex.Stats{Size: 3}}
	h := newTestHandler(t, &fakeRouter{}, idx, false)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"cache_size":3`) {
		t.Errorf("body = %q, want cache_size 3", rec.Body.String())
	}
}
