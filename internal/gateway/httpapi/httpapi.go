// Package httpapi implements the HTTP API gateway for mazoea.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Per-relationship rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/mazoea/internal/breaks"
	"github.com/jkaninda/mazoea/internal/catalog"
	"github.com/jkaninda/mazoea/internal/lifecycle"
	"github.com/jkaninda/mazoea/internal/observability"
	"github.com/jkaninda/mazoea/internal/pipeline"
	"github.com/jkaninda/mazoea/internal/ratelimit"
	"github.com/jkaninda/mazoea/internal/storage"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr string // e.g., ":8980"
	EnableDocs bool
	APIKey     string // Bearer key for /v1 routes. Empty = auth disabled.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
	Anomaly         *observability.AnomalyDetector  // Anomaly detector fed by HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	pipeline *pipeline.Pipeline
	store    storage.Store
	facade   *catalog.Facade
	engine   *lifecycle.Engine
	detector *breaks.Detector
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	okapi    *okapi.Okapi
	group    *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(
	cfg Config,
	p *pipeline.Pipeline,
	store storage.Store,
	facade *catalog.Facade,
	engine *lifecycle.Engine,
	detector *breaks.Detector,
	rl *ratelimit.Limiter,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		config:   cfg,
		pipeline: p,
		store:    store,
		facade:   facade,
		engine:   engine,
		detector: detector,
		limiter:  rl,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithOpenAPIDocs enables the generated OpenAPI documentation endpoint.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Mazoea",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group with metrics/tracing middleware.
	if g.config.Metrics != nil || g.config.Tracer != nil || g.config.Anomaly != nil {
		mw := observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer, g.config.Anomaly)
		g.group = g.okapi.Group("/v1", mw, g.authenticate)
	} else {
		g.group = g.okapi.Group("/v1", g.authenticate)
	}

	// Ingestion.
	g.group.Post("/messages", g.handleMessage,
		okapi.DocSummary("Ingest a conversational message"),
		okapi.DocTags("Messages"),
		okapi.DocRequestBody(MessageRequest{}),
		okapi.DocResponse(http.StatusAccepted, MessageResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	// Relationships.
	g.group.Get("/relationships", g.handleRelationshipList,
		okapi.DocSummary("List tracked relationships"),
		okapi.DocTags("Relationships"),
		okapi.DocResponse([]RelationshipResponse{}),
	)
	g.group.Put("/relationships/{id}/timezone", g.handleSetTimezone,
		okapi.DocSummary("Set the IANA timezone used for a relationship's expectation windows"),
		okapi.DocTags("Relationships"),
		okapi.DocPathParam("id", "string", "Relationship external ID"),
		okapi.DocRequestBody(TimezoneRequest{}),
		okapi.DocResponse(RelationshipResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/relationships/{id}/snapshot", g.handleSnapshot,
		okapi.DocSummary("Get the ready-to-render ritual snapshot for a relationship"),
		okapi.DocTags("Catalog"),
		okapi.DocPathParam("id", "string", "Relationship external ID"),
		okapi.DocResponse(SnapshotResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Rituals.
	g.group.Get("/relationships/{id}/rituals", g.handleRitualList,
		okapi.DocSummary("List all ritual entries for a relationship"),
		okapi.DocTags("Rituals"),
		okapi.DocPathParam("id", "string", "Relationship external ID"),
		okapi.DocResponse([]RitualResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/relationships/{id}/rituals/dismiss", g.handleRitualDismiss,
		okapi.DocSummary("Dismiss a dormant ritual as permanently broken"),
		okapi.DocTags("Rituals"),
		okapi.DocPathParam("id", "string", "Relationship external ID"),
		okapi.DocRequestBody(DismissRequest{}),
		okapi.DocResponse(RitualResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Breaks.
	g.group.Get("/relationships/{id}/breaks", g.handleBreakList,
		okapi.DocSummary("List unresolved breaks for a relationship"),
		okapi.DocTags("Breaks"),
		okapi.DocPathParam("id", "string", "Relationship external ID"),
		okapi.DocResponse([]BreakResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/relationships/{id}/breaks/{breakID}/resolution", g.handleBreakResolve,
		okapi.DocSummary("Record how a break was handled downstream"),
		okapi.DocTags("Breaks"),
		okapi.DocPathParam("id", "string", "Relationship external ID"),
		okapi.DocPathParam("breakID", "string", "Break record ID (UUID)"),
		okapi.DocRequestBody(ResolutionRequest{}),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Authentication ---

// authenticate validates the Bearer API key. When no key is configured,
// all requests pass.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.config.APIKey == "" {
			return next(c)
		}
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(g.config.APIKey)) != 1 {
			return c.AbortUnauthorized("invalid API key")
		}
		return next(c)
	}
}

// --- Helpers ---

// allow applies the per-relationship rate limit.
func (g *Gateway) allow(c *okapi.Context, relationshipKey string) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Allow(relationshipKey); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}
	return nil
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
