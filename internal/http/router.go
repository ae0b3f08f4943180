package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/service/query"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/ws"
)

// TenantResolver maps a presented credential to its tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, credential string) (domain.Tenant, error)
}

// Ingestor is the ingestion pipeline.
type Ingestor interface {
	IngestOne(ctx context.Context, tenantID string, input domain.EventInput) (domain.Event, error)
	IngestBatch(ctx context.Context, tenantID string, inputs []domain.EventInput) ([]domain.Event, error)
}

// Querier is the read-only query facade.
type Querier interface {
	SearchEvents(ctx context.Context, tenantID string, params query.SearchParams) (query.SearchResult, error)
	Analytics(ctx context.Context, tenantID string, start, end time.Time, interval index.Interval) (query.Analytics, error)
	Usage(ctx context.Context, tenantID string, days int) (query.Usage, error)
	Funnel(ctx context.Context, tenantID string, steps []string, start, end time.Time) (query.Funnel, error)
	RecentEvents(ctx context.Context, tenantID string, filter domain.EventFilter) (query.RecentEvents, error)
	Ping(ctx context.Context) error
}

// Options carries router dependencies and limits. Zero limits disable rate limiting for
// that route group.
type Options struct {
	Logger          *slog.Logger
	Tenants         TenantResolver
	Ingest          Ingestor
	Query           Querier
	Hub             *ws.Hub
	Limiter         RateLimiter
	DBHealth        func(context.Context) error
	Registerer      prometheus.Registerer
	Gatherer        prometheus.Gatherer
	Heartbeat       time.Duration
	MaxBodyBytes    int64
	RateLimitIngest int
	RateLimitQuery  int
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	handler      http.Handler
	logger       *slog.Logger
	tenants      TenantResolver
	ingest       Ingestor
	query        Querier
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	dbHealth     func(context.Context) error
	metrics      *metrics
	gatherer     prometheus.Gatherer
	heartbeat    time.Duration
	maxBodyBytes int64
	limitIngest  int
	limitQuery   int
}

const (
	rateWindowDefault   = time.Minute
	rateWindowRealtime  = 30 * time.Second
	rateLimitStream     = 30
	healthCheckTimeout  = 2 * time.Second
	defaultHeartbeat    = 30 * time.Second
	defaultMaxBodyBytes = 5 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		tenants: opts.Tenants,
		ingest:  opts.Ingest,
		query:   opts.Query,
		hub:     opts.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      opts.Limiter,
		dbHealth:     opts.DBHealth,
		metrics:      newMetrics(opts.Registerer, opts.Hub),
		gatherer:     opts.Gatherer,
		heartbeat:    opts.Heartbeat,
		maxBodyBytes: opts.MaxBodyBytes,
		limitIngest:  opts.RateLimitIngest,
		limitQuery:   opts.RateLimitQuery,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	r.handler = r.withRecovery(withRequestID(r.mux))
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.HandleFunc("/healthz/index", r.audit("healthz_index", r.handleIndexHealth))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))

	r.mux.HandleFunc("/v1/track", r.audit("track", r.tenantRate("ingest", r.limitIngest, rateWindowDefault, r.handleTrack)))
	r.mux.HandleFunc("/v1/track/batch", r.audit("track_batch", r.tenantRate("ingest", r.limitIngest, rateWindowDefault, r.handleTrackBatch)))

	r.mux.HandleFunc("/v1/events", r.audit("events", r.tenantRate("query", r.limitQuery, rateWindowDefault, r.handleSearchEvents)))
	r.mux.HandleFunc("/v1/events/recent", r.audit("events_recent", r.tenantRate("query", r.limitQuery, rateWindowDefault, r.handleRecentEvents)))
	r.mux.HandleFunc("/v1/analytics", r.audit("analytics", r.tenantRate("query", r.limitQuery, rateWindowDefault, r.handleAnalytics)))
	r.mux.HandleFunc("/v1/usage", r.audit("usage", r.tenantRate("query", r.limitQuery, rateWindowDefault, r.handleUsage)))
	r.mux.HandleFunc("/v1/funnel", r.audit("funnel", r.tenantRate("query", r.limitQuery, rateWindowDefault, r.handleFunnel)))

	r.mux.HandleFunc("/v1/stream", r.audit("stream", r.tenantRate("stream", rateLimitStream, rateWindowRealtime, r.handleStream)))
	r.mux.HandleFunc("/v1/stream/ws", r.audit("stream_ws", r.tenantRate("stream", rateLimitStream, rateWindowRealtime, r.handleStreamWS)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.hub != nil {
		components["stream"] = map[string]any{"status": "up", "connections": r.hub.Count()}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) handleIndexHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	payload := map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339Nano)}
	if err := r.query.Ping(ctx); err != nil {
		payload["status"] = "down"
		payload["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, payload)
		return
	}
	payload["status"] = "ok"
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.metrics.observeRequest(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := requestIDFromContext(req.Context()); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if tenant, ok := tenantFromContext(ctx); ok {
			fields = append(fields, "tenant_id", tenant.ID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		if sr.status == 0 {
			sr.status = http.StatusSwitchingProtocols
		}
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
