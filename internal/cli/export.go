package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/feedmap/internal/core"
)

// defaultGroupName is used when a channel file does not name its group.
const defaultGroupName = "feed"

// LoadChannel decodes a channel definition in YAML:
//
//	name: site
//	group: cars
//	fields:
//	  - targetName: Make
//	    sourceField: make
//	    rule: lowercase
func LoadChannel(r io.Reader) (core.Channel, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var ch core.Channel
	if err := dec.Decode(&ch); err != nil {
		if errors.Is(err, io.EOF) {
			return core.Channel{}, errors.New("channel file is empty")
		}
		return core.Channel{}, fmt.Errorf("decode channel: %w", err)
	}
	if ch.Group == "" {
		ch.Group = defaultGroupName
	}
	return ch, nil
}

func newExportCommand() *cobra.Command {
	var (
		opts        fetchOptions
		channelFile string
		outFile     string
		strict      bool
	)

	cmd := &cobra.Command{
		Use:   "export --channel <file.yaml> <url|file|->",
		Short: "Project a feed through a channel and write CSV",
		Long: `Read a feed, project it through the channel defined in a YAML file,
and write the export CSV to stdout (or --out). Mapping warnings are logged
to stderr.

Examples:
  feedctl export --channel site.yaml https://dealer.example.com/inventory.csv
  feedctl export --channel site.yaml --out site.csv --strict inventory.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(channelFile)
			if err != nil {
				return fmt.Errorf("open channel: %w", err)
			}
			ch, err := LoadChannel(f)
			f.Close()
			if err != nil {
				return err
			}

			snap, err := opts.loadFeed(cmd, ch.Group, args[0])
			if err != nil {
				return err
			}

			group := core.Group{Name: ch.Group, Fields: snap.Fields}
			if strict {
				if ch, err = core.NormalizeChannel(ch, group); err != nil {
					return err
				}
			}

			proj, err := core.Project(ch, snap)
			if err != nil {
				return err
			}
			for _, w := range proj.Warnings {
				slog.Warn("mapping warning",
					"kind", w.Kind,
					"target", w.TargetName,
					"source", w.SourceField,
					"rule", w.Rule,
					"first_row", w.FirstRow,
					"count", w.Count,
				)
			}

			content, err := core.Render(proj.Columns, proj.Rows)
			if err != nil {
				return err
			}

			if outFile == "" {
				_, err = io.Copy(cmd.OutOrStdout(), bytes.NewReader(content))
				return err
			}
			if err := os.WriteFile(outFile, content, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			slog.Info("export written",
				"file", outFile,
				"rows", len(proj.Rows),
				"columns", len(proj.Columns),
				"warnings", proj.WarningCount(),
			)
			return nil
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVarP(&channelFile, "channel", "c", "", "channel definition (YAML)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write CSV to file instead of stdout")
	cmd.Flags().BoolVar(&strict, "strict", false, "reject source fields the feed does not define")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}
