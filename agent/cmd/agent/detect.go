package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberpulse/cyberpulse/pkg/detect"
	"github.com/cyberpulse/cyberpulse/pkg/ingest"
	"github.com/cyberpulse/cyberpulse/pkg/types"
)

func newDetectCmd() *cobra.Command {
	var (
		format string
		rules  = detect.DefaultRules()
	)
	cmd := &cobra.Command{
		Use:   "detect FILE.csv",
		Short: "Run the detection rules over a CSV event log",
		Long: `Run the brute force, port scan and suspicious login rules over a CSV
event log and print the alerts. Use "-" to read the log from stdin.

Examples:

  cyberpulse-agent detect auth_events.csv
  cyberpulse-agent detect --format json --brute-force 10 auth_events.csv
  cyberpulse-agent demo --minutes 60 | cyberpulse-agent detect --format csv -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runDetect(cmd.OutOrStdout(), cmd.ErrOrStderr(), in, rules, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table | csv | json")
	cmd.Flags().DurationVar(&rules.Window, "window", detect.DefaultWindow, "detection window size")
	cmd.Flags().IntVar(&rules.BruteForceThreshold, "brute-force", detect.DefaultBruteForceThreshold, "failed logins per source per window")
	cmd.Flags().IntVar(&rules.PortScanThreshold, "port-scan", detect.DefaultPortScanThreshold, "distinct ports per source per window")
	return cmd
}

func runDetect(out, errOut io.Writer, in io.Reader, rules detect.Rules, format string) error {
	switch format {
	case "table", "csv", "json":
	default:
		return fmt.Errorf("unknown format %q (want table, csv or json)", format)
	}

	b, err := ingest.ParseCSV(in)
	if err != nil {
		return err
	}
	if b.Dropped > 0 {
		fmt.Fprintf(errOut, "skipped %d rows with a missing or invalid timestamp\n", b.Dropped)
	}

	alerts := detect.New(rules).Detect(b.Events)

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(alerts)
	case "csv":
		return ingest.WriteAlertsCSV(out, alerts)
	default:
		return writeAlertsTable(out, alerts)
	}
}

func writeAlertsTable(w io.Writer, alerts []types.Alert) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSRC_IP\tRULE\tEVIDENCE\tSEVERITY")
	for _, a := range alerts {
		src := a.SrcIP
		if src == "" {
			src = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			a.Time.UTC().Format(time.RFC3339), src, a.Rule, a.Evidence, a.Severity)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d alerts\n", len(alerts))
	return err
}
