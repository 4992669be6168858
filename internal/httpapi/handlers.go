package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hcproxy/hypercube-proxy/internal/cacheindex"
	"github.com/hcproxy/hypercube-proxy/internal/cubestore"
	"github.com/hcproxy/hypercube-proxy/internal/router"
	"github.com/hcproxy/hypercube-proxy/internal/telemetry"
	hcerrors "github.com/hcproxy/hypercube-proxy/pkg/errors"
)

// Router is the subset of router.QueryRouter the HTTP layer needs.
type Router interface {
	Query(ctx context.Context, rawSQL string) (router.Result, error)
}

// CacheAdmin is the subset of cacheindex.CacheIndex the admin surface needs.
type CacheAdmin interface {
	FlushAll() error
	Stats() cacheindex.Stats
}

// StatsSource optionally supplies aggregated telemetry for /admin/cache/stats.
type StatsSource interface {
	Snapshot(topN int) telemetry.Snapshot
}

// FlushBroadcaster optionally announces a flush to other replicas.
type FlushBroadcaster interface {
	BroadcastFlush(ctx context.Context) error
}

type queryRequest struct {
	SQL string `json:"sql"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, hcerrors.New(hcerrors.ErrInvalidInput, http.StatusBadRequest, "request body must be JSON with a \"sql\" field"))
		return
	}

	result, err := h.router.Query(r.Context(), req.SQL)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	if err := writeCSV(w, result.Rowset); err != nil {
		slogWriteError(r, err)
	}
}

func (h *Handler) handleCube(w http.ResponseWriter, r *http.Request) {
	query, err := buildCubeQuery(r, h.sourceTable)
	if err != nil {
		writeJSONError(w, hcerrors.New(hcerrors.ErrInvalidInput, http.StatusBadRequest, err.Error()))
		return
	}

	result, err := h.router.Query(r.Context(), query)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	if err := writeCSV(w, result.Rowset); err != nil {
		slogWriteError(r, err)
	}
}

func (h *Handler) handleCubeJSON(w http.ResponseWriter, r *http.Request) {
	query, err := buildCubeQuery(r, h.sourceTable)
	if err != nil {
		writeJSONError(w, hcerrors.New(hcerrors.ErrInvalidInput, http.StatusBadRequest, err.Error()))
		return
	}

	result, err := h.router.Query(r.Context(), query)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rowsetToJSON(result.Rowset))
}

// rowsetToJSON renders a column-oriented Rowset as an array of row objects,
// the natural JSON shape for a GROUP BY result set.
func rowsetToJSON(rowset cubestore.Rowset) []map[string]any {
	out := make([]map[string]any, 0, len(rowset.Rows))
	for _, row := range rowset.Rows {
		obj := make(map[string]any, len(rowset.Columns))
		for i, col := range rowset.Columns {
			if i < len(row) {
				obj[col] = row[i]
			}
		}
		out = append(out, obj)
	}
	return out
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	stats := h.index.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"cache_size": stats.Size,
	})
}

func (h *Handler) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if err := h.index.FlushAll(); err != nil {
		writeJSONError(w, hcerrors.Newf(hcerrors.ErrCubeStore, http.StatusInternalServerError, "%v", err))
		return
	}
	if h.clusterBus != nil {
		if err := h.clusterBus.BroadcastFlush(r.Context()); err != nil {
			slogWriteError(r, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.index.Stats()
	body := map[string]any{
		"size":   stats.Size,
		"hits":   stats.Hits,
		"misses": stats.Misses,
	}
	if h.statsSource != nil {
		body["telemetry"] = h.statsSource.Snapshot(10)
	}
	writeJSON(w, http.StatusOK, body)
}

type createKeyRequest struct {
	Name      string `json:"name"`
	RateLimit int    `json:"rate_limit"`
}

func (h *Handler) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, hcerrors.New(hcerrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body"))
		return
	}
	rawKey, err := h.keys.CreateKey(r.Context(), req.Name, req.RateLimit, nil)
	if err != nil {
		writeJSONError(w, hcerrors.Newf(hcerrors.ErrInvalidInput, http.StatusInternalServerError, "%v", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": rawKey})
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		writeJSONError(w, hcerrors.Newf(hcerrors.ErrInvalidInput, http.StatusInternalServerError, "%v", err))
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func slogWriteError(r *http.Request, err error) {
	slog.Default().With("component", "httpapi").Warn(
		"failed to write response body", "path", r.URL.Path, "error", err)
}
