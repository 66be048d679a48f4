package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberpulse/cyberpulse/pkg/ingest"
)

func newDemoCmd() *cobra.Command {
	var opts ingest.DemoOptions
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Write synthetic security events as CSV to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.Minutes, "minutes", ingest.DefaultDemoMinutes, "minutes of history to generate")
	cmd.Flags().DurationVar(&opts.Step, "step", ingest.DefaultDemoStep, "time between generator ticks")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", ingest.DefaultDemoSeed, "random seed")
	return cmd
}

// runDemo writes demo events ending at opts.End (now when zero).
func runDemo(w io.Writer, opts ingest.DemoOptions) error {
	if opts.End.IsZero() {
		opts.End = time.Now().UTC().Truncate(time.Second)
	}
	return ingest.WriteCSV(w, ingest.Generate(opts))
}
