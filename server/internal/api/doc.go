// Package api implements the REST API for the cyberpulse server.
//
// All endpoints live under /api/v1 and respond with JSON, except the CSV
// exports (?format=csv on alerts, and the risk report).
//
// Endpoints:
//
//	GET  /api/v1/health      event and alert counts, last detection time
//	GET  /api/v1/alerts      latest alerts; ?rule= ?src_ip= ?severity= ?format=csv
//	GET  /api/v1/events      recent events, newest last; ?limit= (default 500)
//	GET  /api/v1/summary     KPIs, event-type by hour heatmap, per-minute trend,
//	                         event type split and ip_risk distribution
//	GET  /api/v1/report.csv  alerts joined with source IP reputation
//	POST /api/v1/events      JSON event batch (auth)
//	POST /api/v1/events/csv  CSV event upload (auth)
//	GET  /metrics            Prometheus exposition
//
// New(opts) builds the chi router with CORS and request logging middleware.
package api
