package detect

import (
	"cmp"
	"slices"
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// Default thresholds.
const (
	DefaultWindow              = 2 * time.Minute
	DefaultBruteForceThreshold = 6
	DefaultPortScanThreshold   = 12
)

// Rules holds the tunable thresholds of the windowed rules.
type Rules struct {
	// Window is the fixed bucket size shared by brute force and port scan.
	Window time.Duration

	// BruteForceThreshold is the minimum failed logins per source per window.
	BruteForceThreshold int

	// PortScanThreshold is the minimum distinct destination ports per source
	// per window.
	PortScanThreshold int
}

// DefaultRules returns the stock thresholds: 6 failed logins or 12 ports
// within a 2 minute window.
func DefaultRules() Rules {
	return Rules{
		Window:              DefaultWindow,
		BruteForceThreshold: DefaultBruteForceThreshold,
		PortScanThreshold:   DefaultPortScanThreshold,
	}
}

// withDefaults fills unset (non-positive) fields from DefaultRules.
func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.Window <= 0 {
		r.Window = d.Window
	}
	if r.BruteForceThreshold <= 0 {
		r.BruteForceThreshold = d.BruteForceThreshold
	}
	if r.PortScanThreshold <= 0 {
		r.PortScanThreshold = d.PortScanThreshold
	}
	return r
}

// Detector runs the detection rules over event slices.
type Detector struct {
	rules Rules
}

// New returns a Detector for r. Zero fields in r take their default value.
func New(r Rules) *Detector {
	return &Detector{rules: r.withDefaults()}
}

// Rules returns the effective thresholds.
func (d *Detector) Rules() Rules { return d.rules }

// Detect runs all rules over events and returns the combined alerts sorted
// ascending by time. The result is never nil; it is empty when events is
// empty or no rule fires. Events with a zero timestamp are skipped.
//
// Ties on time are ordered by rule (brute force, port scan, suspicious
// login), then source IP, then evidence, so the output does not depend on
// the order of events.
func (d *Detector) Detect(events []types.Event) []types.Alert {
	valid := events
	for i := range events {
		if events[i].Timestamp.IsZero() {
			valid = withTimestamps(events)
			break
		}
	}

	passes := [][]types.Alert{
		d.rules.bruteForce(valid),
		d.rules.portScan(valid),
		suspiciousLogin(valid),
	}

	type ranked struct {
		types.Alert
		rank int
	}
	var all []ranked
	for rank, alerts := range passes {
		for _, a := range alerts {
			all = append(all, ranked{a, rank})
		}
	}
	slices.SortFunc(all, func(a, b ranked) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		if c := cmp.Compare(a.SrcIP, b.SrcIP); c != 0 {
			return c
		}
		return cmp.Compare(a.Evidence, b.Evidence)
	})

	out := make([]types.Alert, len(all))
	for i, r := range all {
		out[i] = r.Alert
	}
	return out
}

// Detect runs the default rules over events.
func Detect(events []types.Event) []types.Alert {
	return New(DefaultRules()).Detect(events)
}

// withTimestamps returns a copy of events without the zero-timestamp ones.
func withTimestamps(events []types.Event) []types.Event {
	out := make([]types.Event, 0, len(events))
	for _, ev := range events {
		if !ev.Timestamp.IsZero() {
			out = append(out, ev)
		}
	}
	return out
}
