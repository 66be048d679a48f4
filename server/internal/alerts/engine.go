package alerts

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/detect"
	"github.com/cyberpulse/cyberpulse/pkg/types"
	"github.com/cyberpulse/cyberpulse/server/internal/config"
	"github.com/cyberpulse/cyberpulse/server/internal/metrics"
)

// maxNotifyPerRun caps webhook notifications per detection run; the rest are
// only logged.
const maxNotifyPerRun = 20

// EventSource supplies the events a detection run operates on.
type EventSource interface {
	Events() []types.Event
}

// Result is the output of one detection run.
type Result struct {
	Alerts      []types.Alert `json:"alerts"`
	GeneratedAt time.Time     `json:"generated_at"`
	EventCount  int           `json:"event_count"`
	New         int           `json:"new"`
}

// Engine runs detection over an EventSource and delivers webhook
// notifications for alerts that are new since the previous run.
//
// Engine is safe for concurrent use.
type Engine struct {
	source   EventSource
	webhooks []config.WebhookConfig
	metrics  *metrics.Metrics // may be nil
	client   *http.Client
	now      func() time.Time

	// runMu serialises Evaluate so the previous-run diff is well defined.
	runMu sync.Mutex

	mu       sync.RWMutex
	detector *detect.Detector
	latest   Result
	previous map[string]struct{} // alert keys of the previous run

	trigger  chan struct{}
	delivery sync.WaitGroup
}

// New creates an Engine. m may be nil.
func New(src EventSource, rules detect.Rules, cfg config.AlertsConfig, m *metrics.Metrics) *Engine {
	return &Engine{
		source:   src,
		webhooks: cfg.Webhooks,
		metrics:  m,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		detector: detect.New(rules),
		latest:   Result{Alerts: []types.Alert{}},
		previous: make(map[string]struct{}),
		trigger:  make(chan struct{}, 1),
	}
}

// Rules returns the thresholds currently in effect.
func (e *Engine) Rules() detect.Rules {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.detector.Rules()
}

// SetRules swaps the detection thresholds and schedules a new run.
func (e *Engine) SetRules(r detect.Rules) {
	d := detect.New(r)
	e.mu.Lock()
	e.detector = d
	e.mu.Unlock()

	slog.Info("alerts: detection rules updated",
		"window", d.Rules().Window,
		"brute_force_threshold", d.Rules().BruteForceThreshold,
		"port_scan_threshold", d.Rules().PortScanThreshold,
	)
	e.Trigger()
}

// SetWebhooks replaces the webhook targets.
func (e *Engine) SetWebhooks(hooks []config.WebhookConfig) {
	e.mu.Lock()
	e.webhooks = hooks
	e.mu.Unlock()
}

// Latest returns the result of the most recent run. Before the first run it
// holds an empty alert list.
func (e *Engine) Latest() Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r := e.latest
	r.Alerts = append([]types.Alert(nil), e.latest.Alerts...)
	if r.Alerts == nil {
		r.Alerts = []types.Alert{}
	}
	return r
}

// Evaluate runs the detector over the current events, replaces the latest
// result, and delivers new alerts asynchronously.
func (e *Engine) Evaluate() Result {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.mu.RLock()
	d := e.detector
	hooks := e.webhooks
	e.mu.RUnlock()

	start := time.Now()
	events := e.source.Events()
	alerts := d.Detect(events)
	elapsed := time.Since(start)

	current := make(map[string]struct{}, len(alerts))
	var fresh []types.Alert
	for _, a := range alerts {
		k := a.Key()
		if _, dup := current[k]; dup {
			continue
		}
		current[k] = struct{}{}
		if _, seen := e.previous[k]; !seen {
			fresh = append(fresh, a)
		}
	}
	e.previous = current

	res := Result{
		Alerts:      alerts,
		GeneratedAt: e.now().UTC(),
		EventCount:  len(events),
		New:         len(fresh),
	}
	e.mu.Lock()
	e.latest = res
	e.mu.Unlock()

	e.record(alerts, fresh, elapsed)

	for _, a := range fresh {
		slog.Warn("alert fired",
			"rule", a.Rule,
			"src_ip", a.SrcIP,
			"time", a.Time,
			"evidence", a.Evidence,
			"severity", a.Severity,
		)
	}
	if len(fresh) > maxNotifyPerRun {
		slog.Warn("alerts: notification cap reached", "new", len(fresh), "notified", maxNotifyPerRun)
		fresh = fresh[:maxNotifyPerRun]
	}
	if len(fresh) > 0 && len(hooks) > 0 {
		e.delivery.Add(1)
		go func() {
			defer e.delivery.Done()
			for i := range fresh {
				e.deliver(hooks, &fresh[i])
			}
		}()
	}

	return res
}

func (e *Engine) record(alerts, fresh []types.Alert, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.DetectionRuns.Inc()
	e.metrics.DetectionDuration.Observe(elapsed.Seconds())
	e.metrics.AlertsByRule.Reset()
	for _, a := range alerts {
		e.metrics.AlertsByRule.WithLabelValues(a.Rule).Inc()
	}
	for _, a := range fresh {
		e.metrics.NewAlerts.WithLabelValues(a.Rule).Inc()
	}
}

// Trigger schedules a detection run without blocking. Multiple triggers
// before the run starts collapse into one.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run evaluates every interval and whenever Trigger is called, until ctx is
// cancelled. It waits for in-flight webhook deliveries before returning.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	defer e.delivery.Wait()

	e.Evaluate()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Evaluate()
		case <-e.trigger:
			e.Evaluate()
		}
	}
}
