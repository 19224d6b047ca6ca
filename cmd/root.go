package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "convoflow",
	Short: "convoflow — debounced, per-contact-serialized conversation automation",
	Long: `convoflow coalesces bursts of inbound chat triggers into one delayed job
per conversation, then advances each conversation through an AI reasoning
step with strict per-contact ordering and mutual exclusion.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
}
