package api

import (
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status        string     `json:"status"`
	EventCount    int        `json:"event_count"`
	AlertCount    int        `json:"alert_count"`
	LastDetection *time.Time `json:"last_detection,omitempty"`
	Rules         RulesInfo  `json:"rules"`
}

// RulesInfo reports the thresholds in effect.
type RulesInfo struct {
	Window              string `json:"window"`
	BruteForceThreshold int    `json:"brute_force_threshold"`
	PortScanThreshold   int    `json:"port_scan_threshold"`
}

// AlertsResponse is the payload for GET /api/v1/alerts.
type AlertsResponse struct {
	Alerts      []types.Alert `json:"alerts"`
	Count       int           `json:"count"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// EventsResponse is the payload for GET /api/v1/events.
type EventsResponse struct {
	Events []types.Event `json:"events"`
	Total  int           `json:"total"`
}

// SummaryResponse is the payload for GET /api/v1/summary.
type SummaryResponse struct {
	KPIs        KPIs         `json:"kpis"`
	Heatmap     Heatmap      `json:"heatmap"`
	Trend       []TrendPoint `json:"trend"`
	EventTypes  []LabelCount `json:"event_types"`
	IPRisk      []LabelCount `json:"ip_risk"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// KPIs are the headline counters. Critical, High and Low count events whose
// severity is "high", "medium" and "low" respectively.
type KPIs struct {
	Critical      int `json:"critical"`
	High          int `json:"high"`
	Low           int `json:"low"`
	Events        int `json:"events"`
	UniqueSources int `json:"unique_sources"`
}

// Heatmap counts events per known event type per hour of day (UTC).
type Heatmap struct {
	Hours []int        `json:"hours"`
	Rows  []HeatmapRow `json:"rows"`
}

// HeatmapRow is one event type's counts for hours 0-23.
type HeatmapRow struct {
	EventType types.EventType `json:"event_type"`
	Counts    []int           `json:"counts"`
}

// TrendPoint is the event count of one minute.
type TrendPoint struct {
	Minute time.Time `json:"minute"`
	Events int       `json:"events"`
}

// LabelCount is one slice of a distribution.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
