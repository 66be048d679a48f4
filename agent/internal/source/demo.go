package source

import (
	"context"
	"sync"
	"time"

	"github.com/cyberpulse/cyberpulse/agent/internal/config"
	"github.com/cyberpulse/cyberpulse/pkg/ingest"
	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// Demo emits synthetic traffic for every generator step elapsed since the
// previous collection.
type Demo struct {
	id       string
	step     time.Duration
	backfill time.Duration

	mu   sync.Mutex
	gen  *ingest.Generator
	next time.Time
	now  func() time.Time
}

// NewDemo returns a Demo source. Zero step and seed take the generator
// defaults.
func NewDemo(id string, cfg config.DemoConfig) *Demo {
	if cfg.Step <= 0 {
		cfg.Step = ingest.DefaultDemoStep
	}
	if cfg.Seed == 0 {
		cfg.Seed = ingest.DefaultDemoSeed
	}
	return &Demo{
		id:       id,
		step:     cfg.Step,
		backfill: time.Duration(cfg.Minutes) * time.Minute,
		gen:      ingest.NewGenerator(cfg.Seed),
		now:      time.Now,
	}
}

// ID implements Source.
func (d *Demo) ID() string { return d.id }

// Collect runs the generator for each tick up to now. The first call starts
// at now minus the configured backfill.
func (d *Demo) Collect(_ context.Context) ([]types.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC().Truncate(time.Second)
	if d.next.IsZero() {
		d.next = now.Add(-d.backfill)
	}

	var out []types.Event
	for ; !d.next.After(now); d.next = d.next.Add(d.step) {
		out = append(out, d.gen.Tick(d.next)...)
	}
	return out, nil
}

// Close implements Source.
func (d *Demo) Close() error { return nil }
