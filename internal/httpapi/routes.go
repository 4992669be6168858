// Package httpapi exposes the proxy's read surface (query execution and the
// cube convenience endpoints), operational surface (ping, metrics, health),
// and admin surface (cache flush/stats, API key management) over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/hcproxy/hypercube-proxy/internal/auth/apikey"
	"github.com/hcproxy/hypercube-proxy/pkg/health"
	"github.com/hcproxy/hypercube-proxy/pkg/metrics"
	"github.com/hcproxy/hypercube-proxy/pkg/middleware"
)

// KeysAdmin is the subset of apikey.Validator the admin key endpoints need.
type KeysAdmin interface {
	Validate(ctx context.Context, rawKey string) (*apikey.KeyInfo, error)
	CreateKey(ctx context.Context, name string, rateLimit int, expiresAt *time.Time) (string, error)
	ListKeys(ctx context.Context) ([]apikey.KeyInfo, error)
}

// RateLimiter is the subset of ratelimit.Limiter the public surface needs.
type RateLimiter interface {
	Allow(key string, limit int) bool
}

// Handler bundles every collaborator the HTTP surface needs and builds the
// routed, middleware-wrapped http.Handler for the proxy.
type Handler struct {
	router      Router
	index       CacheAdmin
	sourceTable string
	clusterBus  FlushBroadcaster
	statsSource StatsSource
	keys        KeysAdmin
	limiter     RateLimiter

	apiKeyRequired     bool
	rateLimitPerMinute int

	health  *health.Checker
	metrics *metrics.Metrics
}

// Config collects Handler's dependencies.
type Config struct {
	Router             Router
	Index              CacheAdmin
	SourceTable        string
	ClusterBus         FlushBroadcaster
	StatsSource        StatsSource
	Keys               KeysAdmin
	Limiter            RateLimiter
	APIKeyRequired     bool
	RateLimitPerMinute int
	Health             *health.Checker
	Metrics            *metrics.Metrics
}

// NewHandler builds the Handler from cfg.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		router:             cfg.Router,
		index:              cfg.Index,
		sourceTable:        cfg.SourceTable,
		clusterBus:         cfg.ClusterBus,
		statsSource:        cfg.StatsSource,
		keys:               cfg.Keys,
		limiter:            cfg.Limiter,
		apiKeyRequired:     cfg.APIKeyRequired,
		rateLimitPerMinute: cfg.RateLimitPerMinute,
		health:             cfg.Health,
		metrics:            cfg.Metrics,
	}
}

// Routes builds the full middleware-wrapped mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /query", h.rateLimited(http.HandlerFunc(h.handleQuery)))
	mux.Handle("GET /cube", h.rateLimited(http.HandlerFunc(h.handleCube)))
	mux.Handle("GET /cube.json", h.rateLimited(http.HandlerFunc(h.handleCubeJSON)))
	mux.HandleFunc("GET /ping", h.handlePing)
	mux.Handle("GET /metrics", metrics.Handler())

	if h.health != nil {
		mux.HandleFunc("GET /health/live", h.health.LiveHandler())
		mux.HandleFunc("GET /health/ready", h.health.ReadyHandler())
	}

	mux.Handle("POST /admin/cache/flush", h.adminOnly(http.HandlerFunc(h.handleCacheFlush)))
	mux.Handle("GET /admin/cache/stats", h.adminOnly(http.HandlerFunc(h.handleCacheStats)))
	mux.Handle("POST /admin/keys", h.adminOnly(http.HandlerFunc(h.handleCreateKey)))
	mux.Handle("GET /admin/keys", h.adminOnly(http.HandlerFunc(h.handleListKeys)))

	var chain http.Handler = mux
	chain = middleware.Timeout(30 * time.Second)(chain)
	if h.metrics != nil {
		chain = middleware.Metrics(h.metrics)(chain)
	}
	chain = middleware.RequestID(chain)
	return chain
}

// rateLimited applies the public-surface token-bucket limiter, keyed on
// caller IP. Requests are never API-key gated here; /query and /cube* are
// the proxy's public read surface.
func (h *Handler) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && h.rateLimitPerMinute > 0 {
			key := clientIP(r)
			if !h.limiter.Allow(key, h.rateLimitPerMinute) {
				writeJSONError(w, rateLimitedErr)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// adminOnly requires a valid admin API key (when configured) and then applies
// the same per-caller rate limiter as the public read surface.
func (h *Handler) adminOnly(next http.Handler) http.Handler {
	rateLimited := h.rateLimited(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKeyRequired {
			rawKey := r.Header.Get("X-API-Key")
			if rawKey == "" {
				writeJSONError(w, unauthorizedErr)
				return
			}
			if _, err := h.keys.Validate(r.Context(), rawKey); err != nil {
				writeJSONError(w, unauthorizedErr)
				return
			}
		}
		rateLimited.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
