// Package cmd wires the command-line surface of the harvester.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mediaharvest",
		Short: "A resilient media acquisition pipeline for paginated and scroll-driven galleries.",
		Long: `mediaharvest walks the collections of a target site, discovers the media
items each one exposes, downloads every item not seen before, and records the
outcome of each attempt in a CSV ledger. Completed collections are
checkpointed so interrupted runs resume where they left off.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus HARVEST_* env)")

	cmd.AddCommand(newRunCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
