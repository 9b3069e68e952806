package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/feedmap/internal/core"
)

// inspectReport is the JSON form of the inspect output.
type inspectReport struct {
	Source      string        `json:"source"`
	Fields      []string      `json:"fields"`
	RecordCount int           `json:"recordCount"`
	SkippedRows int           `json:"skippedRows"`
	Sample      []core.Record `json:"sample"`
}

func newInspectCommand() *cobra.Command {
	var (
		opts       fetchOptions
		jsonOutput bool
		sample     int
	)

	cmd := &cobra.Command{
		Use:   "inspect <url|file|->",
		Short: "Show the fields and row counts of a feed",
		Long: `Fetch or read a feed and print the fields its header defines,
how many records parsed, and how many rows were skipped.

Examples:
  feedctl inspect https://dealer.example.com/inventory.csv
  feedctl inspect --json --sample 3 inventory.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.loadFeed(cmd, "inspect", args[0])
			if err != nil {
				return err
			}

			n := min(max(sample, 0), len(snap.Records))
			report := inspectReport{
				Source:      args[0],
				Fields:      snap.Fields,
				RecordCount: len(snap.Records),
				SkippedRows: snap.SkippedRows,
				Sample:      snap.Records[:n],
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprintf(out, "Source:   %s\n", report.Source)
			fmt.Fprintf(out, "Fields:   %d\n", len(report.Fields))
			for i, f := range report.Fields {
				fmt.Fprintf(out, "  %2d. %s\n", i+1, f)
			}
			fmt.Fprintf(out, "Records:  %d\n", report.RecordCount)
			fmt.Fprintf(out, "Skipped:  %d\n", report.SkippedRows)
			for i, rec := range report.Sample {
				vals := lo.Map(report.Fields, func(f string, _ int) string { return f + "=" + rec[f] })
				fmt.Fprintf(out, "Row %d:    %s\n", i+1, strings.Join(vals, " "))
			}
			return nil
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&sample, "sample", 0, "number of records to print")
	return cmd
}
