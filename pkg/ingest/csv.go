package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// ErrMissingTimestamp is returned when an event table has no timestamp column
// at all. It is distinct from individual rows with unparseable timestamps,
// which are dropped and counted.
var ErrMissingTimestamp = errors.New("missing required column: timestamp")

// Batch is a normalized set of events ready for storage and detection.
type Batch struct {
	// ID uniquely identifies the batch in logs and archive rows.
	ID string `json:"id"`

	// Events are sorted ascending by timestamp and all have a timestamp.
	Events []types.Event `json:"events"`

	// Dropped counts input rows skipped for a missing or bad timestamp.
	Dropped int `json:"dropped"`
}

// NewBatch cleans events (see Clean) and wraps them in a Batch with a fresh ID.
func NewBatch(events []types.Event) *Batch {
	kept, dropped := Clean(events)
	return &Batch{ID: uuid.NewString(), Events: kept, Dropped: dropped}
}

// Clean returns a copy of events without zero-timestamp entries, sorted
// ascending by timestamp, and the number of entries removed.
func Clean(events []types.Event) ([]types.Event, int) {
	out := make([]types.Event, 0, len(events))
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			continue
		}
		ev.Timestamp = ev.Timestamp.UTC()
		out = append(out, ev)
	}
	slices.SortStableFunc(out, func(a, b types.Event) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, len(events) - len(out)
}

// ParseCSV reads a CSV event log with a header row.
func ParseCSV(r io.Reader) (*Batch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrMissingTimestamp
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: read csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	if _, ok := cols["timestamp"]; !ok {
		return nil, ErrMissingTimestamp
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		events []types.Event
		total  int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read csv: %w", err)
		}
		total++

		ts, ok := ParseTimestamp(field(rec, "timestamp"))
		if !ok {
			continue
		}
		events = append(events, types.Event{
			Timestamp: ts,
			SrcIP:     field(rec, "src_ip"),
			DestIP:    field(rec, "dest_ip"),
			DestPort:  ParsePort(field(rec, "dest_port")),
			Username:  field(rec, "username"),
			Type:      types.EventType(strings.ToLower(field(rec, "event_type"))),
			Status:    field(rec, "status"),
			Severity:  field(rec, "severity"),
			IPRisk:    field(rec, "ip_risk"),
		})
	}

	b := NewBatch(events)
	b.Dropped = total - len(b.Events)
	return b, nil
}

// WriteCSV writes events with the canonical header (types.EventColumns).
func WriteCSV(w io.Writer, events []types.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(types.EventColumns); err != nil {
		return fmt.Errorf("ingest: write csv header: %w", err)
	}
	for _, ev := range events {
		port := ""
		if ev.DestPort != nil {
			port = strconv.Itoa(*ev.DestPort)
		}
		rec := []string{
			ev.Timestamp.UTC().Format(time.RFC3339Nano), ev.SrcIP, ev.DestIP, port, ev.Username,
			string(ev.Type), ev.Status, ev.Severity, ev.IPRisk,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("ingest: write csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAlertsCSV writes alerts with the canonical header (types.AlertColumns).
// The header is written even when alerts is empty.
func WriteAlertsCSV(w io.Writer, alerts []types.Alert) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(types.AlertColumns); err != nil {
		return fmt.Errorf("ingest: write alerts header: %w", err)
	}
	for _, a := range alerts {
		if err := cw.Write(a.Record()); err != nil {
			return fmt.Errorf("ingest: write alert: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
