package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// wireEvent is the lenient JSON shape of an event. Timestamp and port may be
// strings or numbers.
type wireEvent struct {
	Timestamp json.RawMessage `json:"timestamp"`
	SrcIP     string          `json:"src_ip"`
	DestIP    string          `json:"dest_ip"`
	DestPort  json.RawMessage `json:"dest_port"`
	Username  string          `json:"username"`
	EventType string          `json:"event_type"`
	Status    string          `json:"status"`
	Severity  string          `json:"severity"`
	IPRisk    string          `json:"ip_risk"`
}

func (w *wireEvent) event() types.Event {
	return types.Event{
		Timestamp: rawTimestamp(w.Timestamp),
		SrcIP:     strings.TrimSpace(w.SrcIP),
		DestIP:    strings.TrimSpace(w.DestIP),
		DestPort:  rawPort(w.DestPort),
		Username:  strings.TrimSpace(w.Username),
		Type:      types.EventType(strings.ToLower(strings.TrimSpace(w.EventType))),
		Status:    w.Status,
		Severity:  w.Severity,
		IPRisk:    w.IPRisk,
	}
}

// DecodeJSON decodes one JSON event object. A missing or unparseable
// timestamp leaves Timestamp zero; it is not an error.
func DecodeJSON(data []byte) (types.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return types.Event{}, fmt.Errorf("ingest: decode event: %w", err)
	}
	return w.event(), nil
}

// DecodeJSONArray decodes a JSON array of event objects.
func DecodeJSONArray(data []byte) ([]types.Event, error) {
	var ws []wireEvent
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("ingest: decode events: %w", err)
	}
	out := make([]types.Event, len(ws))
	for i := range ws {
		out[i] = ws[i].event()
	}
	return out, nil
}

func rawTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}
		}
	} else {
		s = string(raw)
	}
	t, _ := ParseTimestamp(s)
	return t
}

func rawPort(raw json.RawMessage) *int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		return ParsePort(s)
	}
	if _, err := strconv.ParseFloat(string(raw), 64); err != nil {
		return nil
	}
	return ParsePort(string(raw))
}
