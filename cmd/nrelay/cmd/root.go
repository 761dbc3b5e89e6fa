// Package cmd contains the CLI commands for nrelay.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version info (set from main)
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"

	// Global flags
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nrelay",
	Short: "Nostr relay",
	Long: `nrelay is a Nostr relay. Clients connect over WebSocket to publish
signed events and to subscribe to the events other clients publish.

Events are validated, stored in sqlite or postgres and fanned out to every
open subscription that matches them.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information from the main package.
func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./settings.yaml or ~/.nrelay/settings.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// versionCmd displays version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nrelay %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  Build time: %s\n", buildTime)
		fmt.Fprintf(cmd.OutOrStdout(), "  Git commit: %s\n", gitCommit)
	},
}
