// Package cli contains the feedctl commands.
//
// feedctl runs the feed pipeline once, outside the server: it fetches or
// reads a feed, parses it, and projects it through a channel definition
// written in YAML. It is meant for checking a new feed or channel before
// configuring it on the server.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/feedmap/internal/core"
	"github.com/JonMunkholm/feedmap/internal/logging"
)

var version = "dev"

// SetVersion sets the version string reported by --version.
func SetVersion(v string) {
	version = v
}

// NewRootCommand builds the feedctl command tree.
func NewRootCommand() *cobra.Command {
	var (
		verbose   bool
		logFormat string
	)

	root := &cobra.Command{
		Use:   "feedctl",
		Short: "Inspect CSV feeds and preview channel exports",
		Long: `feedctl runs the feed pipeline once against a URL or local file.

Example usage:
  feedctl inspect https://dealer.example.com/inventory.csv
  feedctl export --channel site.yaml inventory.csv > site.csv
  feedctl eval "round:2" 19.999`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "info"
			if verbose {
				level = "debug"
			}
			logging.SetupWriter(cmd.ErrOrStderr(), level, logFormat)
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(newInspectCommand(), newExportCommand(), newEvalCommand())
	return root
}

// Execute runs feedctl with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// ErrorText renders a command failure for the terminal. Pipeline errors
// get their support code and suggested action; anything else (bad flags,
// missing files) is shown as is.
func ErrorText(err error) string {
	if core.IsUserFacing(err) {
		return fmt.Sprintf("Error: %s\n  %v", core.FormatUserError(err), err)
	}
	return "Error: " + err.Error()
}

// fetchOptions are the flags shared by commands that read a feed.
type fetchOptions struct {
	timeout time.Duration
	retries int
}

func (o *fetchOptions) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&o.timeout, "timeout", core.DefaultFetchTimeout, "per-attempt fetch timeout")
	cmd.Flags().IntVar(&o.retries, "retries", 0, "retries after the first attempt")
}

// readFeed downloads source when it is an http(s) URL and reads it from
// disk otherwise. "-" reads stdin.
func (o *fetchOptions) readFeed(ctx context.Context, cmd *cobra.Command, source string) ([]byte, error) {
	switch {
	case source == "-":
		return io.ReadAll(cmd.InOrStdin())
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		retries := o.retries
		if retries == 0 {
			retries = -1
		}
		f := core.NewFetcher(nil, core.FetcherConfig{Timeout: o.timeout, MaxRetries: retries})
		return f.Fetch(ctx, source)
	default:
		raw, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read feed: %w", err)
		}
		return raw, nil
	}
}

// loadFeed reads and parses source into a snapshot.
func (o *fetchOptions) loadFeed(cmd *cobra.Command, group, source string) (*core.Snapshot, error) {
	raw, err := o.readFeed(cmd.Context(), cmd, source)
	if err != nil {
		return nil, err
	}
	res, err := core.Parse(raw)
	if err != nil {
		return nil, err
	}
	return core.NewSnapshotCache().Commit(group, "feedctl", res, time.Now().UTC()), nil
}
