package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cyberpulse/cyberpulse/pkg/ingest"
	"github.com/cyberpulse/cyberpulse/pkg/types"
	"github.com/cyberpulse/cyberpulse/server/internal/alerts"
	"github.com/cyberpulse/cyberpulse/server/internal/intel"
	"github.com/cyberpulse/cyberpulse/server/internal/metrics"
	"github.com/cyberpulse/cyberpulse/server/internal/receiver"
	"github.com/cyberpulse/cyberpulse/server/internal/report"
	"github.com/cyberpulse/cyberpulse/server/internal/store"
)

// DefaultEventLimit is the number of events GET /api/v1/events returns when
// no limit is given.
const DefaultEventLimit = 500

// Options wires the API to the server components. Store, Engine and Receiver
// are required; the rest may be nil.
type Options struct {
	Store    *store.Store
	Engine   *alerts.Engine
	Receiver *receiver.Receiver

	// Enricher resolves source reputations for the risk report. When nil,
	// every source reports score 0 and country "??".
	Enricher report.Enricher

	// Metrics is served at /metrics when set.
	Metrics *metrics.Metrics

	// Auth wraps the ingestion endpoints.
	Auth func(http.Handler) http.Handler

	// APIKeyHeader is the header Auth reads the key from. CORS preflight
	// allows it. Empty means "x-api-key".
	APIKeyHeader string

	// AllowedOrigins for CORS. Empty means "*".
	AllowedOrigins []string
}

// Handler serves the REST API.
type Handler struct {
	store    *store.Store
	engine   *alerts.Engine
	enricher report.Enricher
	now      func() time.Time
}

// New builds the router and registers all routes.
func New(opts Options) http.Handler {
	h := &Handler{
		store:    opts.Store,
		engine:   opts.Engine,
		enricher: opts.Enricher,
		now:      time.Now,
	}
	if h.enricher == nil {
		h.enricher = unknownEnricher{}
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	keyHeader := opts.APIKeyHeader
	if keyHeader == "" {
		keyHeader = "x-api-key"
	}
	authMW := opts.Auth
	if authMW == nil {
		authMW = func(next http.Handler) http.Handler { return next }
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", keyHeader, receiver.BatchIDHeader},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/alerts", h.alerts)
		r.Get("/events", h.events)
		r.Get("/summary", h.summary)
		r.Get("/report.csv", h.report)

		r.Group(func(r chi.Router) {
			r.Use(authMW)
			r.Post("/events", opts.Receiver.HandleJSON)
			r.Post("/events/csv", opts.Receiver.HandleCSV)
		})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	res := h.engine.Latest()
	rules := h.engine.Rules()
	resp := HealthResponse{
		Status:     "ok",
		EventCount: h.store.Count(),
		AlertCount: len(res.Alerts),
		Rules: RulesInfo{
			Window:              rules.Window.String(),
			BruteForceThreshold: rules.BruteForceThreshold,
			PortScanThreshold:   rules.PortScanThreshold,
		},
	}
	if !res.GeneratedAt.IsZero() {
		t := res.GeneratedAt
		resp.LastDetection = &t
	}
	jsonResp(w, http.StatusOK, resp)
}

// alerts returns GET /api/v1/alerts, optionally filtered and as CSV.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	res := h.engine.Latest()
	out := filterAlerts(res.Alerts, r.URL.Query().Get("rule"), r.URL.Query().Get("src_ip"), r.URL.Query().Get("severity"))

	switch r.URL.Query().Get("format") {
	case "", "json":
		jsonResp(w, http.StatusOK, AlertsResponse{Alerts: out, Count: len(out), GeneratedAt: res.GeneratedAt})
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="alerts.csv"`)
		if err := ingest.WriteAlertsCSV(w, out); err != nil {
			slog.Error("api: write alerts csv", "err", err)
		}
	default:
		jsonErr(w, http.StatusBadRequest, "format must be json or csv")
	}
}

// events returns GET /api/v1/events, the most recent ?limit= events in
// timestamp order.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	limit := DefaultEventLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	evs := h.store.Events()
	total := len(evs)
	if len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	jsonResp(w, http.StatusOK, EventsResponse{Events: evs, Total: total})
}

// summary returns GET /api/v1/summary.
func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, Summarize(h.store.Events(), h.now()))
}

// report returns GET /api/v1/report.csv.
func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	rows, err := report.Build(r.Context(), h.engine.Latest().Alerts, h.enricher)
	if err != nil {
		slog.Error("api: build report", "err", err)
		jsonErr(w, http.StatusServiceUnavailable, "report unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename+`"`)
	if err := report.WriteCSV(w, rows); err != nil {
		slog.Error("api: write report", "err", err)
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// filterAlerts keeps alerts matching every non-empty filter. The rule filter
// is a case-insensitive prefix so "brute force" matches any threshold label.
func filterAlerts(in []types.Alert, rule, srcIP, severity string) []types.Alert {
	out := make([]types.Alert, 0, len(in))
	rule = strings.ToLower(rule)
	for _, a := range in {
		if rule != "" && !strings.HasPrefix(strings.ToLower(a.Rule), rule) {
			continue
		}
		if srcIP != "" && a.SrcIP != srcIP {
			continue
		}
		if severity != "" && !strings.EqualFold(a.Severity, severity) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			slog.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// unknownEnricher reports every IP as unknown.
type unknownEnricher struct{}

func (unknownEnricher) EnrichAll(_ context.Context, ips []string) (map[string]intel.Reputation, error) {
	out := make(map[string]intel.Reputation, len(ips))
	for _, ip := range ips {
		out[ip] = intel.Reputation{IP: ip, Country: intel.UnknownCountry, RiskLevel: intel.RiskLow}
	}
	return out, nil
}
