package types

import "time"

// Alert severities.
const (
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// AlertColumns are the column names of an alert table, in order. They are
// always emitted, even when there are no alerts.
var AlertColumns = []string{"time", "src_ip", "rule", "evidence", "severity"}

// Alert is one detected condition. Alerts have no identity beyond their
// field values; two alerts with the same fields are equal.
type Alert struct {
	Time     time.Time `json:"time"`
	SrcIP    string    `json:"src_ip"`
	Rule     string    `json:"rule"`
	Evidence string    `json:"evidence"`
	Severity string    `json:"severity"`
}

// Key returns a string that is equal for two alerts exactly when all of
// their fields are equal.
func (a Alert) Key() string {
	return a.Time.UTC().Format(time.RFC3339Nano) + "|" + a.SrcIP + "|" + a.Rule + "|" + a.Evidence + "|" + a.Severity
}

// Record returns the alert as a CSV record in AlertColumns order. The time
// keeps its sub-second part, as in Key and the JSON form.
func (a Alert) Record() []string {
	return []string{a.Time.UTC().Format(time.RFC3339Nano), a.SrcIP, a.Rule, a.Evidence, a.Severity}
}
