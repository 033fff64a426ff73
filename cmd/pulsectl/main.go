// pulsectl is the developer CLI for the Pulse SDK: validate and fetch rule
// documents, render templates, inspect persisted hit queues, and tail the
// event bridge.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groblegark/pulse/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:           "pulsectl",
	Short:         "Developer tooling for the Pulse SDK",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if !ui.ShouldUseColor() {
		ui.ForceNoColor()
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
