package types

import "time"

// EventType classifies a security event.
type EventType string

// Known event types.
const (
	FailedLogin     EventType = "failed_login"
	SuccessfulLogin EventType = "successful_login"
	PortScan        EventType = "port_scan"
	SuspiciousLogin EventType = "suspicious_login"
)

// EventTypes is the canonical display order of the known event types.
var EventTypes = []EventType{FailedLogin, SuccessfulLogin, PortScan, SuspiciousLogin}

// EventColumns are the canonical CSV column names for an Event, in order.
var EventColumns = []string{
	"timestamp", "src_ip", "dest_ip", "dest_port", "username",
	"event_type", "status", "severity", "ip_risk",
}

// Event is one observed network or authentication action.
//
// A zero Timestamp means the source value was missing or unparseable; such
// events cannot be placed in a detection window. A nil DestPort means the
// port was absent.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	SrcIP     string    `json:"src_ip"`
	DestIP    string    `json:"dest_ip,omitempty"`
	DestPort  *int      `json:"dest_port,omitempty"`
	Username  string    `json:"username,omitempty"`
	Type      EventType `json:"event_type"`
	Status    string    `json:"status,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	IPRisk    string    `json:"ip_risk,omitempty"`
}

// Port returns a pointer to p, for building events with a destination port.
func Port(p int) *int { return &p }
