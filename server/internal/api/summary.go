package api

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// maxTrendPoints caps the per-minute trend to the most recent day.
const maxTrendPoints = 24 * 60

// Summarize computes the dashboard aggregates over events. Events with a
// zero timestamp count toward the KPIs and distributions but not toward the
// heatmap or trend.
func Summarize(events []types.Event, now time.Time) SummaryResponse {
	resp := SummaryResponse{
		Heatmap:     Heatmap{Hours: make([]int, 24)},
		Trend:       []TrendPoint{},
		EventTypes:  []LabelCount{},
		IPRisk:      []LabelCount{},
		GeneratedAt: now.UTC(),
	}
	for h := range resp.Heatmap.Hours {
		resp.Heatmap.Hours[h] = h
	}

	rowIdx := make(map[types.EventType]int, len(types.EventTypes))
	for i, et := range types.EventTypes {
		rowIdx[et] = i
		resp.Heatmap.Rows = append(resp.Heatmap.Rows, HeatmapRow{EventType: et, Counts: make([]int, 24)})
	}

	sources := make(map[string]struct{})
	typeCounts := make(map[string]int)
	riskCounts := make(map[string]int)
	perMinute := make(map[int64]int)

	for _, ev := range events {
		resp.KPIs.Events++
		switch strings.ToLower(ev.Severity) {
		case "high":
			resp.KPIs.Critical++
		case "medium":
			resp.KPIs.High++
		case "low":
			resp.KPIs.Low++
		}
		if ev.SrcIP != "" {
			sources[ev.SrcIP] = struct{}{}
		}
		if ev.Type != "" {
			typeCounts[string(ev.Type)]++
		}
		if ev.IPRisk != "" {
			riskCounts[ev.IPRisk]++
		}

		if ev.Timestamp.IsZero() {
			continue
		}
		ts := ev.Timestamp.UTC()
		if i, ok := rowIdx[ev.Type]; ok {
			resp.Heatmap.Rows[i].Counts[ts.Hour()]++
		}
		perMinute[ts.Truncate(time.Minute).Unix()]++
	}
	resp.KPIs.UniqueSources = len(sources)
	resp.EventTypes = sortedCounts(typeCounts, true)
	resp.IPRisk = sortedCounts(riskCounts, false)
	resp.Trend = trend(perMinute)
	return resp
}

// trend expands per-minute counts into a contiguous series, filling empty
// minutes with zero.
func trend(perMinute map[int64]int) []TrendPoint {
	if len(perMinute) == 0 {
		return []TrendPoint{}
	}
	var first, last int64
	started := false
	for m := range perMinute {
		if !started || m < first {
			first = m
		}
		if !started || m > last {
			last = m
		}
		started = true
	}
	if n := (last-first)/60 + 1; n > maxTrendPoints {
		first = last - (maxTrendPoints-1)*60
	}

	out := make([]TrendPoint, 0, (last-first)/60+1)
	for m := first; m <= last; m += 60 {
		out = append(out, TrendPoint{Minute: time.Unix(m, 0).UTC(), Events: perMinute[m]})
	}
	return out
}

// sortedCounts flattens a count map. byCount orders by count descending
// (label ascending on ties); otherwise by label.
func sortedCounts(m map[string]int, byCount bool) []LabelCount {
	out := make([]LabelCount, 0, len(m))
	for k, v := range m {
		out = append(out, LabelCount{Label: k, Count: v})
	}
	slices.SortFunc(out, func(a, b LabelCount) int {
		if byCount {
			if c := cmp.Compare(b.Count, a.Count); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Label, b.Label)
	})
	return out
}
