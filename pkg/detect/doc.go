// Package detect implements the rule-based alert detector.
//
// Detector.Detect runs three independent passes over an event slice and
// returns the combined alerts sorted by time:
//
//   - brute force: failed logins per source IP per fixed window (>= 6 / 2min)
//   - port scan: distinct destination ports per source IP per fixed window
//     (>= 12 / 2min), regardless of event type
//   - suspicious login: every suspicious_login event, no aggregation
//
// Windows are fixed buckets aligned to the Unix epoch
// (bucket = floor((t - epoch) / window)), not sliding windows. Events just
// either side of a bucket boundary never combine toward one threshold.
//
// Detect never mutates its input and holds no state between calls, so a
// Detector is safe for concurrent use.
package detect
