package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/feedmap/internal/core"
)

func newEvalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "eval <rule> <value>",
		Short: "Apply a mapping rule to a single value",
		Long: `Apply a mapping rule to a value and print the result.
A warning is printed to stderr if the rule could not be applied.

Examples:
  feedctl eval uppercase ford
  feedctl eval "prefix:SKU-" 1042
  feedctl eval "round:2" 19.999`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, warn := core.Evaluate(args[1], args[0])
			if warn != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warn)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
