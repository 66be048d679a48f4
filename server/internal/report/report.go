// Package report builds the risk report: one row per alert, joined with the
// reputation of its source IP.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/cyberpulse/cyberpulse/pkg/types"
	"github.com/cyberpulse/cyberpulse/server/internal/intel"
)

// Filename is the suggested download name of the report.
const Filename = "cyberpulse_risk_report.csv"

// Columns are the report CSV columns: the alert columns followed by the
// enrichment columns.
var Columns = append(append([]string{}, types.AlertColumns...), "score", "country", "risk_level")

// Row is one alert with its source reputation.
type Row struct {
	types.Alert
	Score     int    `json:"score"`
	Country   string `json:"country"`
	RiskLevel string `json:"risk_level"`
}

// Record returns the row in Columns order.
func (r Row) Record() []string {
	return append(r.Alert.Record(), strconv.Itoa(r.Score), r.Country, r.RiskLevel)
}

// Enricher resolves reputations for a set of IPs.
type Enricher interface {
	EnrichAll(ctx context.Context, ips []string) (map[string]intel.Reputation, error)
}

// Build joins each alert with the reputation of its source IP. The rows keep
// the order of alerts.
func Build(ctx context.Context, alerts []types.Alert, e Enricher) ([]Row, error) {
	ips := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ips = append(ips, a.SrcIP)
	}
	reps, err := e.EnrichAll(ctx, ips)
	if err != nil {
		return nil, fmt.Errorf("report: enrich: %w", err)
	}

	rows := make([]Row, len(alerts))
	for i, a := range alerts {
		rep, ok := reps[a.SrcIP]
		if !ok {
			rep = intel.Reputation{Country: intel.UnknownCountry, RiskLevel: intel.RiskLow}
		}
		rows[i] = Row{Alert: a, Score: rep.Score, Country: rep.Country, RiskLevel: rep.RiskLevel}
	}
	return rows, nil
}

// WriteCSV writes the header and rows. The header is written even when rows
// is empty.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return fmt.Errorf("report: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
