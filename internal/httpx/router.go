package httpx

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fangwater/mkt-monitor/internal/correlate"
	"github.com/fangwater/mkt-monitor/internal/domain"
	"github.com/fangwater/mkt-monitor/internal/ingest"
	"github.com/fangwater/mkt-monitor/internal/store"
	"github.com/fangwater/mkt-monitor/internal/ws"
)

// Engine is the store surface the router needs. *store.Store satisfies it.
type Engine interface {
	UpsertBandwidth(sample domain.BandwidthSample) bool
	IngestIntegrity(check domain.IntegrityCheck)
	Attach(client ws.Subscriber, nodeFilter string) error
	Detach(id string)
	Status() (store.Overview, []store.NodeStatus)
	Buckets(node string, limit int, since, until float64) ([]domain.Bucket, bool)
	Integrity(f correlate.Filter, limit int) []domain.IntegrityEvent
	Streams() []domain.StreamInfo
	Correlation(node string, limit int) ([]store.CorrelatedBucket, bool)
	Alerts(limit int) []domain.IntegrityEvent
	Snapshot(nodeFilter string) store.Snapshot
}

// Router wires HTTP endpoints to the engine.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	engine        Engine
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	producerToken string
	sendBuffer    int

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	ingestTotal        *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitRead      = 300
	rateLimitIngest    = 3000
	rateLimitStream    = 30
	defaultQueryLimit  = 100
	maxIngestBody      = 1 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, engine Engine, limiter RateLimiter, producerToken string, sendBuffer int) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		engine: engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:       limiter,
		producerToken: strings.TrimSpace(producerToken),
		sendBuffer:    sendBuffer,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.sendBuffer <= 0 {
		r.sendBuffer = ws.DefaultSendBuffer
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/status", r.audit(r.withRateLimit("status", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleStatus)))
	r.mux.HandleFunc("/api/buckets", r.audit(r.withRateLimit("buckets", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleBuckets)))
	r.mux.HandleFunc("/api/integrity", r.audit(r.withRateLimit("integrity", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleIntegrity)))
	r.mux.HandleFunc("/api/correlation", r.audit(r.withRateLimit("correlation", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleCorrelation)))
	r.mux.HandleFunc("/api/snapshot", r.audit(r.withRateLimit("snapshot", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleSnapshot)))
	r.mux.HandleFunc("/api/alerts", r.audit(r.withRateLimit("alerts", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleAlerts)))
	r.mux.HandleFunc("/api/ingest/bandwidth", r.audit(r.withRateLimit("ingest_bandwidth", rateLimitIngest, rateWindowDefault, rateLimitKeyIP, r.handleIngestBandwidth)))
	r.mux.HandleFunc("/api/ingest/integrity", r.audit(r.withRateLimit("ingest_integrity", rateLimitIngest, rateWindowDefault, rateLimitKeyIP, r.handleIngestIntegrity)))
	r.mux.HandleFunc("/ws/metrics", r.audit(r.withRateLimit("ws", rateLimitStream, rateWindowRealtime, rateLimitKeyIP, r.handleMetricsWS)))
	r.mux.HandleFunc("/api/stream", r.audit(r.withRateLimit("sse", rateLimitStream, rateWindowRealtime, rateLimitKeyIP, r.handleStreamSSE)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	overview, _ := r.engine.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"nodes":       overview.Nodes,
		"streams":     overview.Streams,
		"subscribers": overview.Subscribers,
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	overview, nodes := r.engine.Status()
	q := req.URL.Query()
	if hostname, iface := q.Get("hostname"), q.Get("interface"); hostname != "" || iface != "" {
		filtered := nodes[:0]
		for _, n := range nodes {
			if hostname != "" && n.Node.Hostname != hostname {
				continue
			}
			if iface != "" && n.Node.Interface != iface {
				continue
			}
			filtered = append(filtered, n)
		}
		nodes = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overview": overview,
		"nodes":    nodes,
	})
}

func (r *Router) handleBuckets(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	node := req.URL.Query().Get("node")
	if node == "" {
		writeError(w, http.StatusBadRequest, "node query parameter required")
		return
	}
	limit := queryInt(req, "limit", defaultQueryLimit)
	since := queryFloat(req, "since")
	until := queryFloat(req, "until")
	buckets, ok := r.engine.Buckets(node, limit, since, until)
	if !ok {
		buckets = []domain.Bucket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node":    node,
		"buckets": buckets,
	})
}

func (r *Router) handleIntegrity(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	q := req.URL.Query()
	filter := correlate.Filter{
		StreamKey: q.Get("stream"),
		Exchange:  q.Get("exchange"),
		Symbol:    q.Get("symbol"),
		Stage:     q.Get("stage"),
		Type:      q.Get("type"),
	}
	events := r.engine.Integrity(filter, queryInt(req, "limit", defaultQueryLimit))
	payload := map[string]any{"events": events}
	if q.Get("meta") == "true" {
		payload["streams"] = r.engine.Streams()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleCorrelation(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	node := req.URL.Query().Get("node")
	if node == "" {
		writeError(w, http.StatusBadRequest, "node query parameter required")
		return
	}
	rows, ok := r.engine.Correlation(node, queryInt(req, "limit", defaultQueryLimit))
	if !ok {
		rows = []store.CorrelatedBucket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node":    node,
		"buckets": rows,
	})
}

func (r *Router) handleSnapshot(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.engine.Snapshot(req.URL.Query().Get("node")))
}

func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": r.engine.Alerts(queryInt(req, "limit", defaultQueryLimit)),
	})
}

func (r *Router) handleIngestBandwidth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyProducerToken(w, req) {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	sample, err := ingest.Bandwidth(raw)
	if err != nil {
		r.recordIngest("bandwidth", "malformed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sample.Hostname == "" || sample.Interface == "" {
		r.recordIngest("bandwidth", "malformed")
		writeError(w, http.StatusBadRequest, "hostname and interface are required")
		return
	}
	if !r.engine.UpsertBandwidth(sample) {
		r.recordIngest("bandwidth", "dropped")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "dropped", "reason": "out_of_order"})
		return
	}
	r.recordIngest("bandwidth", "accepted")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (r *Router) handleIngestIntegrity(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyProducerToken(w, req) {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	check, err := ingest.Integrity(raw)
	if err != nil {
		r.recordIngest("integrity", "malformed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	r.engine.IngestIntegrity(check)
	r.recordIngest("integrity", "accepted")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (r *Router) handleMetricsWS(w http.ResponseWriter, req *http.Request) {
	nodeFilter := req.URL.Query().Get("node")
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger, r.sendBuffer)
	if err := r.engine.Attach(client, nodeFilter); err != nil {
		r.logger.Error("subscriber attach failed", "error", err)
		client.Close()
		return
	}
	go client.Run()
	go func() {
		defer func() {
			r.engine.Detach(client.ID())
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleStreamSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger, r.sendBuffer)
	if err := r.engine.Attach(client, req.URL.Query().Get("node")); err != nil {
		r.logger.Error("subscriber attach failed", "error", err)
		client.Close()
		return
	}
	defer func() {
		r.engine.Detach(client.ID())
		client.Close()
	}()
	client.Serve(req.Context().Done())
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)

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
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
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

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// verifyProducerToken checks the shared producer secret when one is
// configured. An empty configured token disables the check.
func (r *Router) verifyProducerToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.producerToken
	if expected == "" {
		return true
	}
	token := strings.TrimSpace(req.Header.Get("X-Producer-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("producer token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid producer token")
		return false
	}
	return true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func queryInt(req *http.Request, name string, fallback int) int {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func queryFloat(req *http.Request, name string) float64 {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
