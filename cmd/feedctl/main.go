// Package main is the entry point for the feedctl CLI.
package main

import (
	"fmt"
	"os"

	"github.com/JonMunkholm/feedmap/internal/cli"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorText(err))
		os.Exit(1)
	}
}
