package api_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/detect"
	"github.com/cyberpulse/cyberpulse/pkg/types"
	"github.com/cyberpulse/cyberpulse/server/internal/alerts"
	"github.com/cyberpulse/cyberpulse/server/internal/api"
	"github.com/cyberpulse/cyberpulse/server/internal/auth"
	"github.com/cyberpulse/cyberpulse/server/internal/config"
	"github.com/cyberpulse/cyberpulse/server/internal/intel"
	"github.com/cyberpulse/cyberpulse/server/internal/metrics"
	"github.com/cyberpulse/cyberpulse/server/internal/receiver"
	"github.com/cyberpulse/cyberpulse/server/internal/store"
)

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// --- test helpers -----------------------------------------------------------

type fixture struct {
	store  *store.Store
	engine *alerts.Engine
	h      http.Handler
}

type staticEnricher map[string]intel.Reputation

func (s staticEnricher) EnrichAll(_ context.Context, ips []string) (map[string]intel.Reputation, error) {
	out := map[string]intel.Reputation{}
	for _, ip := range ips {
		if r, ok := s[ip]; ok {
			out[ip] = r
		}
	}
	return out, nil
}

func newFixture(t *testing.T, events ...types.Event) *fixture {
	t.Helper()
	st := store.New(time.Hour)
	st.Append(events)
	m := metrics.New()
	eng := alerts.New(st, detect.DefaultRules(), config.AlertsConfig{}, m)
	eng.Evaluate()
	rcv := receiver.New(st, nil, eng, m)
	h := api.New(api.Options{
		Store:    st,
		Engine:   eng,
		Receiver: rcv,
		Enricher: staticEnricher{"45.83.12.7": {IP: "45.83.12.7", Score: 99, Country: "RU", RiskLevel: intel.RiskHigh}},
		Metrics:  m,
		Auth:     auth.APIKey("apikey", "x-api-key", "secret"),
	})
	return &fixture{store: st, engine: eng, h: h}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func failedLogins(src string, n int) []types.Event {
	out := make([]types.Event, n)
	for i := range out {
		out[i] = types.Event{Timestamp: baseTime.Add(time.Duration(i) * time.Second), SrcIP: src, Type: types.FailedLogin, Severity: "low", IPRisk: "High"}
	}
	return out
}

func suspicious(src, user string) types.Event {
	return types.Event{Timestamp: baseTime.Add(30 * time.Second), SrcIP: src, Username: user, Type: types.SuspiciousLogin, Severity: "high", IPRisk: "Low"}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth(t *testing.T) {
	f := newFixture(t, append(failedLogins("45.83.12.7", 6), suspicious("10.0.0.5", "alice"))...)
	rr := get(t, f.h, "/api/v1/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.EventCount != 7 || resp.AlertCount != 2 {
		t.Errorf("counts: %+v", resp)
	}
	if resp.LastDetection == nil {
		t.Error("last_detection: missing")
	}
	if resp.Rules.BruteForceThreshold != 6 || resp.Rules.PortScanThreshold != 12 || resp.Rules.Window != "2m0s" {
		t.Errorf("rules: %+v", resp.Rules)
	}
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.h, "/api/v1/alerts")
	if !strings.Contains(rr.Body.String(), `"alerts":[]`) {
		t.Errorf("body: got %s, want alerts:[]", rr.Body)
	}
}

func TestAlerts_Filters(t *testing.T) {
	f := newFixture(t, append(failedLogins("45.83.12.7", 6), suspicious("10.0.0.5", "alice"))...)

	cases := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"?rule=brute%20force", 1},
		{"?rule=Suspicious%20Login", 1},
		{"?src_ip=10.0.0.5", 1},
		{"?severity=HIGH", 1},
		{"?severity=medium&src_ip=10.0.0.5", 0},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			var resp api.AlertsResponse
			decode(t, get(t, f.h, "/api/v1/alerts"+tc.query), &resp)
			if resp.Count != tc.want || len(resp.Alerts) != tc.want {
				t.Errorf("count: got %d, want %d", resp.Count, tc.want)
			}
		})
	}
}

func TestAlerts_CSV(t *testing.T) {
	f := newFixture(t, suspicious("10.0.0.5", "alice"))
	rr := get(t, f.h, "/api/v1/alerts?format=csv")
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type: got %q", ct)
	}
	recs, err := csv.NewReader(rr.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records: got %d, want 2", len(recs))
	}
	if strings.Join(recs[0], ",") != "time,src_ip,rule,evidence,severity" {
		t.Errorf("header: %v", recs[0])
	}
	if recs[1][3] != "user=alice" {
		t.Errorf("evidence: %v", recs[1])
	}
}

func TestAlerts_BadFormat(t *testing.T) {
	f := newFixture(t)
	if rr := get(t, f.h, "/api/v1/alerts?format=xml"); rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

// --- /api/v1/events ---------------------------------------------------------

func TestEvents_Limit(t *testing.T) {
	f := newFixture(t, failedLogins("1.1.1.1", 10)...)

	var resp api.EventsResponse
	decode(t, get(t, f.h, "/api/v1/events?limit=3"), &resp)
	if len(resp.Events) != 3 || resp.Total != 10 {
		t.Fatalf("events: got %d of %d", len(resp.Events), resp.Total)
	}
	if !resp.Events[2].Timestamp.Equal(baseTime.Add(9 * time.Second)) {
		t.Errorf("limit should keep the most recent events, last = %v", resp.Events[2].Timestamp)
	}

	for _, bad := range []string{"0", "-1", "abc"} {
		if rr := get(t, f.h, "/api/v1/events?limit="+bad); rr.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: got %d, want 400", bad, rr.Code)
		}
	}
}

// --- /api/v1/summary --------------------------------------------------------

func TestSummary(t *testing.T) {
	f := newFixture(t, append(failedLogins("45.83.12.7", 6), suspicious("10.0.0.5", "alice"))...)
	var resp api.SummaryResponse
	decode(t, get(t, f.h, "/api/v1/summary"), &resp)

	if resp.KPIs.Events != 7 || resp.KPIs.Critical != 1 || resp.KPIs.Low != 6 || resp.KPIs.UniqueSources != 2 {
		t.Errorf("kpis: %+v", resp.KPIs)
	}
	if len(resp.Heatmap.Rows) != 4 || resp.Heatmap.Rows[0].EventType != types.FailedLogin {
		t.Fatalf("heatmap rows: %+v", resp.Heatmap.Rows)
	}
	if got := resp.Heatmap.Rows[0].Counts[12]; got != 6 {
		t.Errorf("failed_login at hour 12: got %d, want 6", got)
	}
	if len(resp.EventTypes) != 2 || resp.EventTypes[0].Label != "failed_login" || resp.EventTypes[0].Count != 6 {
		t.Errorf("event_types: %+v", resp.EventTypes)
	}
}

func TestSummarize_TrendFillsGaps(t *testing.T) {
	evs := []types.Event{
		{Timestamp: baseTime, Type: types.PortScan},
		{Timestamp: baseTime.Add(10 * time.Second), Type: types.PortScan},
		{Timestamp: baseTime.Add(3 * time.Minute), Type: types.PortScan},
	}
	resp := api.Summarize(evs, baseTime)
	if len(resp.Trend) != 4 {
		t.Fatalf("trend: got %d points, want 4", len(resp.Trend))
	}
	want := []int{2, 0, 0, 1}
	for i, p := range resp.Trend {
		if p.Events != want[i] {
			t.Errorf("trend[%d]: got %d, want %d", i, p.Events, want[i])
		}
	}
}

func TestSummarize_Empty(t *testing.T) {
	resp := api.Summarize(nil, baseTime)
	b, _ := json.Marshal(resp)
	for _, want := range []string{`"trend":[]`, `"event_types":[]`, `"ip_risk":[]`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("empty summary missing %s: %s", want, b)
		}
	}
}

func TestSummarize_IPRiskDistribution(t *testing.T) {
	evs := []types.Event{
		{Timestamp: baseTime, IPRisk: "Low"},
		{Timestamp: baseTime, IPRisk: "High"},
		{Timestamp: baseTime, IPRisk: "Low"},
		{Timestamp: baseTime},
	}
	resp := api.Summarize(evs, baseTime)
	if len(resp.IPRisk) != 2 || resp.IPRisk[0].Label != "High" || resp.IPRisk[1].Count != 2 {
		t.Errorf("ip_risk: %+v", resp.IPRisk)
	}
}

// --- /api/v1/report.csv -----------------------------------------------------

func TestReport(t *testing.T) {
	f := newFixture(t, append(failedLogins("45.83.12.7", 6), suspicious("10.0.0.5", "alice"))...)
	rr := get(t, f.h, "/api/v1/report.csv")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "cyberpulse_risk_report.csv") {
		t.Errorf("Content-Disposition: %q", cd)
	}
	recs, err := csv.NewReader(rr.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("records: got %d, want 3", len(recs))
	}
	// Brute force row first (earlier bucket time), enriched HIGH.
	if recs[1][1] != "45.83.12.7" || recs[1][5] != "99" || recs[1][6] != "RU" || recs[1][7] != "HIGH" {
		t.Errorf("row 1: %v", recs[1])
	}
	if recs[2][6] != "??" || recs[2][7] != "LOW" {
		t.Errorf("row 2: %v", recs[2])
	}
}

// --- ingestion --------------------------------------------------------------

func TestIngest_RequiresAPIKey(t *testing.T) {
	f := newFixture(t)
	body := `[{"timestamp":"2026-01-01T12:00:00Z","src_ip":"1.1.1.1","event_type":"failed_login"}]`

	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("without key: got %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	req.Header.Set("x-api-key", "secret")
	rr = httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Errorf("with key: got %d, want 202 (body %s)", rr.Code, rr.Body)
	}
	if f.store.Count() != 1 {
		t.Errorf("store count: got %d, want 1", f.store.Count())
	}
}

func TestIngest_CSVThenDetect(t *testing.T) {
	f := newFixture(t)
	var b strings.Builder
	b.WriteString("timestamp,src_ip,event_type,username\n")
	b.WriteString("2026-01-01 12:00:05,10.0.0.5,suspicious_login,mallory\n")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/csv", strings.NewReader(b.String()))
	req.Header.Set("x-api-key", "secret")
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d (body %s)", rr.Code, rr.Body)
	}

	f.engine.Evaluate()
	var resp api.AlertsResponse
	decode(t, get(t, f.h, "/api/v1/alerts"), &resp)
	if len(resp.Alerts) != 1 || resp.Alerts[0].Evidence != "user=mallory" {
		t.Errorf("alerts: %+v", resp.Alerts)
	}
}

// --- misc -------------------------------------------------------------------

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, suspicious("10.0.0.5", "alice"))
	rr := get(t, f.h, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "cyberpulse_detection_runs_total") {
		t.Error("metrics output missing cyberpulse_detection_runs_total")
	}
}

func TestUnknownRoute_404JSON(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.h, "/api/v1/nope")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"error"`) {
		t.Errorf("body: %s", rr.Body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/alerts", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/alerts", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin: got %q, want *", got)
	}
}

func TestCORSPreflight_APIKeyHeader(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		requested string
		allowed   bool
	}{
		{"default header", "", "x-api-key", true},
		{"custom header", "x-cp-key", "x-cp-key, content-type", true},
		{"custom header replaces default", "x-cp-key", "x-api-key", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := store.New(time.Hour)
			m := metrics.New()
			eng := alerts.New(st, detect.DefaultRules(), config.AlertsConfig{}, m)
			h := api.New(api.Options{
				Store:        st,
				Engine:       eng,
				Receiver:     receiver.New(st, nil, eng, m),
				APIKeyHeader: tc.header,
			})

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/events", nil)
			req.Header.Set("Origin", "http://dashboard.local")
			req.Header.Set("Access-Control-Request-Method", "POST")
			req.Header.Set("Access-Control-Request-Headers", tc.requested)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			got := rr.Header().Get("Access-Control-Allow-Origin")
			if tc.allowed && got != "*" {
				t.Errorf("Access-Control-Allow-Origin: got %q, want *", got)
			}
			if !tc.allowed && got != "" {
				t.Errorf("Access-Control-Allow-Origin: got %q, want preflight rejected", got)
			}
		})
	}
}
