package ingest

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// Demo defaults.
const (
	DefaultDemoMinutes = 180
	DefaultDemoStep    = 30 * time.Second
	DefaultDemoSeed    = 42
)

var (
	demoOffenders = []string{"45.83.12.7", "77.21.56.99", "91.200.12.44", "185.220.100.1"}
	demoUsers     = []string{"alice", "bob", "charlie", "diana", "eve", "frank"}
	demoServers   = []string{"10.0.0.10", "10.0.0.20", "10.0.0.30"}
	demoPorts     = []int{22, 23, 25, 80, 110, 135, 139, 389, 443, 445, 8080, 8443, 3389, 5900}

	// demoTypeWeights are cumulative: failed 0.45, success 0.25, scan 0.20,
	// suspicious 0.10.
	demoTypeWeights = []float64{0.45, 0.70, 0.90, 1.0}
)

// DemoOptions configures Generate.
type DemoOptions struct {
	// Minutes of history to generate, ending at End. Default 180.
	Minutes int

	// Step between generation ticks. Default 30s.
	Step time.Duration

	// Seed makes the output reproducible. Default 42 when zero.
	Seed uint64

	// End is the last tick. Defaults to the current time, truncated to the
	// second.
	End time.Time
}

// Generator produces synthetic security events. It is not safe for
// concurrent use.
type Generator struct {
	rng    *rand.Rand
	local  []string
	public []string
}

// NewGenerator returns a Generator seeded with seed.
func NewGenerator(seed uint64) *Generator {
	g := &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
	for i := 10; i < 60; i += 2 {
		g.local = append(g.local, fmt.Sprintf("192.168.1.%d", i))
	}
	for i := 10; i < 50; i += 5 {
		g.public = append(g.public, fmt.Sprintf("203.0.113.%d", i))
	}
	for i := 20; i < 60; i += 5 {
		g.public = append(g.public, fmt.Sprintf("198.51.100.%d", i))
	}
	return g
}

// Tick returns between zero and four events stamped ts.
func (g *Generator) Tick(ts time.Time) []types.Event {
	n := g.rng.IntN(5)
	out := make([]types.Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.event(ts.UTC()))
	}
	return out
}

func (g *Generator) event(ts time.Time) types.Event {
	ev := types.Event{
		Timestamp: ts,
		Type:      g.eventType(),
		DestIP:    pick(g.rng, demoServers),
		DestPort:  types.Port(pick(g.rng, demoPorts)),
		Username:  pick(g.rng, demoUsers),
	}
	ev.SrcIP, ev.IPRisk = g.sourceIP()

	switch ev.Type {
	case types.FailedLogin:
		ev.Status, ev.Severity = "failed", "low"
	case types.SuccessfulLogin:
		ev.Status, ev.Severity = "success", "info"
	case types.PortScan:
		ev.Status, ev.Severity = "suspicious", "medium"
		ev.DestPort = types.Port(1 + g.rng.IntN(65534))
	default:
		ev.Status, ev.Severity = "suspicious", "high"
	}
	return ev
}

func (g *Generator) eventType() types.EventType {
	r := g.rng.Float64()
	for i, w := range demoTypeWeights {
		if r < w {
			return types.EventTypes[i]
		}
	}
	return types.EventTypes[len(types.EventTypes)-1]
}

// sourceIP picks an offender (p=0.25), public (0.35) or local (0.40) address
// and the matching ip_risk tag.
func (g *Generator) sourceIP() (string, string) {
	switch r := g.rng.Float64(); {
	case r < 0.25:
		return pick(g.rng, demoOffenders), "High"
	case r < 0.60:
		return pick(g.rng, g.public), "Medium"
	default:
		return pick(g.rng, g.local), "Low"
	}
}

func pick[T any](rng *rand.Rand, xs []T) T {
	return xs[rng.IntN(len(xs))]
}

// Generate returns demo events for every Step from End-Minutes to End,
// inclusive, sorted by timestamp.
func Generate(opts DemoOptions) []types.Event {
	if opts.Minutes <= 0 {
		opts.Minutes = DefaultDemoMinutes
	}
	if opts.Step <= 0 {
		opts.Step = DefaultDemoStep
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultDemoSeed
	}
	if opts.End.IsZero() {
		opts.End = time.Now().UTC().Truncate(time.Second)
	}

	g := NewGenerator(opts.Seed)
	start := opts.End.Add(-time.Duration(opts.Minutes) * time.Minute)
	var out []types.Event
	for ts := start; !ts.After(opts.End); ts = ts.Add(opts.Step) {
		out = append(out, g.Tick(ts)...)
	}
	return out
}
