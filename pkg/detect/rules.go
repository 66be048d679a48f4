package detect

import (
	"fmt"

	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// BruteForceRule returns the rule name for the brute force detector.
func (r Rules) BruteForceRule() string {
	return fmt.Sprintf("Brute Force (>=%d/%s)", r.BruteForceThreshold, windowLabel(r.Window))
}

// PortScanRule returns the rule name for the port scan detector.
func (r Rules) PortScanRule() string {
	return fmt.Sprintf("Port Scan (>=%d ports/%s)", r.PortScanThreshold, windowLabel(r.Window))
}

// SuspiciousLoginRule is the rule name for the suspicious login detector.
const SuspiciousLoginRule = "Suspicious Login"

// bruteForce counts failed logins per source per window.
func (r Rules) bruteForce(events []types.Event) []types.Alert {
	counts := make(map[windowKey]int)
	for i := range events {
		ev := &events[i]
		if ev.Type != types.FailedLogin || ev.SrcIP == "" {
			continue
		}
		counts[windowKey{ev.SrcIP, bucketStart(ev.Timestamp, r.Window)}]++
	}

	var out []types.Alert
	rule := r.BruteForceRule()
	for k, n := range counts {
		if n < r.BruteForceThreshold {
			continue
		}
		out = append(out, types.Alert{
			Time:     k.start,
			SrcIP:    k.src,
			Rule:     rule,
			Evidence: fmt.Sprintf("count=%d", n),
			Severity: types.SeverityMedium,
		})
	}
	return out
}

// portScan counts distinct destination ports per source per window. Events
// without a port are ignored.
func (r Rules) portScan(events []types.Event) []types.Alert {
	ports := make(map[windowKey]map[int]struct{})
	for i := range events {
		ev := &events[i]
		if ev.SrcIP == "" || ev.DestPort == nil {
			continue
		}
		k := windowKey{ev.SrcIP, bucketStart(ev.Timestamp, r.Window)}
		set, ok := ports[k]
		if !ok {
			set = make(map[int]struct{})
			ports[k] = set
		}
		set[*ev.DestPort] = struct{}{}
	}

	var out []types.Alert
	rule := r.PortScanRule()
	for k, set := range ports {
		if len(set) < r.PortScanThreshold {
			continue
		}
		out = append(out, types.Alert{
			Time:     k.start,
			SrcIP:    k.src,
			Rule:     rule,
			Evidence: fmt.Sprintf("unique_ports=%d", len(set)),
			Severity: types.SeverityMedium,
		})
	}
	return out
}

// suspiciousLogin emits one alert per suspicious_login event.
func suspiciousLogin(events []types.Event) []types.Alert {
	var out []types.Alert
	for i := range events {
		ev := &events[i]
		if ev.Type != types.SuspiciousLogin {
			continue
		}
		out = append(out, types.Alert{
			Time:     ev.Timestamp.UTC(),
			SrcIP:    ev.SrcIP,
			Rule:     SuspiciousLoginRule,
			Evidence: "user=" + ev.Username,
			Severity: types.SeverityHigh,
		})
	}
	return out
}
