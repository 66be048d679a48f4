package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"01/02/2006 15:04:05",
	"2006-01-02",
}

// MinTimestamp and MaxTimestamp bound the times ParseTimestamp accepts: the
// range representable as int64 Unix nanoseconds.
var (
	MinTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// ParseTimestamp parses s as a point in time and returns it in UTC.
// Numeric values are read as Unix seconds (fractions allowed).
// ok is false for empty or unparseable input and for times outside
// [MinTimestamp, MaxTimestamp], which are treated like missing values.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return unixSeconds(f)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return inRange(t.UTC())
		}
	}
	return time.Time{}, false
}

func unixSeconds(f float64) (time.Time, bool) {
	if math.IsNaN(f) || f < float64(MinTimestamp.Unix()) || f > float64(MaxTimestamp.Unix()) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return inRange(time.Unix(int64(sec), int64(frac*1e9)).UTC())
}

func inRange(t time.Time) (time.Time, bool) {
	if t.Before(MinTimestamp) || t.After(MaxTimestamp) {
		return time.Time{}, false
	}
	return t, true
}

// ParsePort coerces s to a port number. Float renderings of integers ("22.0")
// are accepted. It returns nil for empty or non-integral input.
func ParsePort(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int(f)
	return &n
}
