package alerts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/detect"
	"github.com/cyberpulse/cyberpulse/pkg/types"
	"github.com/cyberpulse/cyberpulse/server/internal/config"
	"github.com/cyberpulse/cyberpulse/server/internal/metrics"
)

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// sliceSource is an EventSource backed by a mutable slice.
type sliceSource struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *sliceSource) Events() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Event(nil), s.events...)
}

func (s *sliceSource) add(evs ...types.Event) {
	s.mu.Lock()
	s.events = append(s.events, evs...)
	s.mu.Unlock()
}

func failedLogins(src string, n int) []types.Event {
	out := make([]types.Event, n)
	for i := range out {
		out[i] = types.Event{Timestamp: baseTime.Add(time.Duration(i) * time.Second), SrcIP: src, Type: types.FailedLogin}
	}
	return out
}

func suspicious(src, user string, ts time.Time) types.Event {
	return types.Event{Timestamp: ts, SrcIP: src, Username: user, Type: types.SuspiciousLogin}
}

// collector is an httptest webhook target that records request bodies.
type collector struct {
	mu     sync.Mutex
	bodies []string
}

func (c *collector) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, string(b))
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bodies...)
}

func TestLatest_BeforeFirstRun(t *testing.T) {
	e := New(&sliceSource{}, detect.DefaultRules(), config.AlertsConfig{}, nil)
	res := e.Latest()
	if res.Alerts == nil || len(res.Alerts) != 0 {
		t.Errorf("Latest before run: got %#v, want empty non-nil", res.Alerts)
	}
	b, _ := json.Marshal(res)
	if !strings.Contains(string(b), `"alerts":[]`) {
		t.Errorf("JSON: got %s, want alerts:[]", b)
	}
}

func TestEvaluate_ProducesAlerts(t *testing.T) {
	src := &sliceSource{}
	src.add(failedLogins("10.0.0.1", 6)...)
	e := New(src, detect.DefaultRules(), config.AlertsConfig{}, nil)
	e.now = func() time.Time { return baseTime.Add(time.Hour) }

	res := e.Evaluate()
	if len(res.Alerts) != 1 {
		t.Fatalf("alerts: got %d, want 1", len(res.Alerts))
	}
	if res.Alerts[0].Evidence != "count=6" {
		t.Errorf("evidence: got %q", res.Alerts[0].Evidence)
	}
	if res.EventCount != 6 {
		t.Errorf("EventCount: got %d, want 6", res.EventCount)
	}
	if !res.GeneratedAt.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("GeneratedAt: got %v", res.GeneratedAt)
	}
	if got := e.Latest(); len(got.Alerts) != 1 {
		t.Errorf("Latest: got %d alerts, want 1", len(got.Alerts))
	}
}

func TestEvaluate_NewOnlySincePreviousRun(t *testing.T) {
	src := &sliceSource{}
	src.add(suspicious("10.0.0.5", "alice", baseTime))
	e := New(src, detect.DefaultRules(), config.AlertsConfig{}, nil)

	if res := e.Evaluate(); res.New != 1 {
		t.Errorf("first run New: got %d, want 1", res.New)
	}
	if res := e.Evaluate(); res.New != 0 {
		t.Errorf("unchanged run New: got %d, want 0", res.New)
	}
	src.add(suspicious("10.0.0.6", "bob", baseTime.Add(time.Minute)))
	res := e.Evaluate()
	if res.New != 1 {
		t.Errorf("after new event New: got %d, want 1", res.New)
	}
	if len(res.Alerts) != 2 {
		t.Errorf("alerts are recomputed, not merged: got %d, want 2", len(res.Alerts))
	}
}

func TestEvaluate_FreshEachRun(t *testing.T) {
	src := &sliceSource{}
	src.add(suspicious("10.0.0.5", "alice", baseTime))
	e := New(src, detect.DefaultRules(), config.AlertsConfig{}, nil)
	e.Evaluate()

	src.mu.Lock()
	src.events = nil
	src.mu.Unlock()

	if res := e.Evaluate(); len(res.Alerts) != 0 {
		t.Errorf("alerts after events expired: got %d, want 0", len(res.Alerts))
	}
}

func TestSetRules_ChangesThresholds(t *testing.T) {
	src := &sliceSource{}
	src.add(failedLogins("10.0.0.1", 4)...)
	e := New(src, detect.DefaultRules(), config.AlertsConfig{}, nil)

	if res := e.Evaluate(); len(res.Alerts) != 0 {
		t.Fatalf("default rules: got %d alerts, want 0", len(res.Alerts))
	}
	e.SetRules(detect.Rules{Window: 2 * time.Minute, BruteForceThreshold: 4, PortScanThreshold: 12})
	if got := e.Rules().BruteForceThreshold; got != 4 {
		t.Errorf("Rules().BruteForceThreshold: got %d, want 4", got)
	}
	res := e.Evaluate()
	if len(res.Alerts) != 1 || res.Alerts[0].Rule != "Brute Force (>=4/2min)" {
		t.Errorf("after SetRules: got %+v", res.Alerts)
	}
}

func TestEvaluate_DeliversNewAlertsToWebhooks(t *testing.T) {
	var slack, generic collector
	slackSrv := slack.server(t, http.StatusOK)
	httpSrv := generic.server(t, http.StatusOK)
	t.Setenv("TEST_SLACK_URL", slackSrv.URL)
	t.Setenv("TEST_HTTP_URL", httpSrv.URL)

	cfg := config.AlertsConfig{Webhooks: []config.WebhookConfig{
		{Type: "slack", URLEnv: "TEST_SLACK_URL"},
		{Type: "http", URLEnv: "TEST_HTTP_URL"},
	}}
	src := &sliceSource{}
	src.add(suspicious("10.0.0.5", "alice", baseTime))
	m := metrics.New()
	e := New(src, detect.DefaultRules(), cfg, m)

	e.Evaluate()
	e.Evaluate() // same alert, not new
	e.delivery.Wait()

	sb := slack.got()
	if len(sb) != 1 {
		t.Fatalf("slack deliveries: got %d, want 1", len(sb))
	}
	if !strings.Contains(sb[0], "[HIGH]") || !strings.Contains(sb[0], "user=alice") {
		t.Errorf("slack body: %s", sb[0])
	}

	hb := generic.got()
	if len(hb) != 1 {
		t.Fatalf("http deliveries: got %d, want 1", len(hb))
	}
	var payload struct {
		Alert types.Alert `json:"alert"`
	}
	if err := json.Unmarshal([]byte(hb[0]), &payload); err != nil {
		t.Fatalf("decode http body: %v", err)
	}
	if payload.Alert.Rule != detect.SuspiciousLoginRule || payload.Alert.SrcIP != "10.0.0.5" {
		t.Errorf("http payload: %+v", payload.Alert)
	}
}

func TestEvaluate_WebhookFailureDoesNotBlock(t *testing.T) {
	var c collector
	srv := c.server(t, http.StatusInternalServerError)
	t.Setenv("TEST_TEAMS_URL", srv.URL)

	cfg := config.AlertsConfig{Webhooks: []config.WebhookConfig{{Type: "teams", URLEnv: "TEST_TEAMS_URL"}}}
	src := &sliceSource{}
	src.add(suspicious("10.0.0.5", "alice", baseTime))
	e := New(src, detect.DefaultRules(), cfg, nil)

	if res := e.Evaluate(); len(res.Alerts) != 1 {
		t.Fatalf("alerts: got %d, want 1", len(res.Alerts))
	}
	e.delivery.Wait()
	if got := c.got(); len(got) != 1 || !strings.Contains(got[0], "MessageCard") {
		t.Errorf("teams body: %v", got)
	}
}

func TestEvaluate_UnsetWebhookURLSkipped(t *testing.T) {
	cfg := config.AlertsConfig{Webhooks: []config.WebhookConfig{{Type: "slack", URLEnv: "CYBERPULSE_TEST_UNSET_URL"}}}
	src := &sliceSource{}
	src.add(suspicious("10.0.0.5", "alice", baseTime))
	e := New(src, detect.DefaultRules(), cfg, nil)
	e.Evaluate()
	e.delivery.Wait()
}

func TestRun_TriggerEvaluates(t *testing.T) {
	src := &sliceSource{}
	e := New(src, detect.DefaultRules(), config.AlertsConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, time.Hour)
		close(done)
	}()

	src.add(suspicious("10.0.0.5", "alice", baseTime))
	deadline := time.After(2 * time.Second)
	for len(e.Latest().Alerts) == 0 {
		e.Trigger()
		select {
		case <-deadline:
			cancel()
			t.Fatal("Trigger did not cause a detection run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestSeverityLabel(t *testing.T) {
	cases := map[string]string{
		types.SeverityHigh:   "[HIGH]",
		types.SeverityMedium: "[MEDIUM]",
		"":                   "[INFO]",
	}
	for in, want := range cases {
		if got := severityLabel(in); got != want {
			t.Errorf("severityLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMessage_EmptySource(t *testing.T) {
	a := types.Alert{Time: baseTime, Rule: detect.SuspiciousLoginRule, Evidence: "user=alice"}
	got := message(&a)
	want := "Suspicious Login from unknown source at 2026-01-01T12:00:00Z (user=alice)"
	if got != want {
		t.Errorf("message: got %q, want %q", got, want)
	}
}
