// Package commands implements the zapgate CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zapgate",
		Short: "Zapgate - WhatsApp messaging gateway for the back-office",
		Long: `Zapgate keeps a single authenticated WhatsApp session alive and exposes
an HTTP control API for the back-office: status, send-message, send-media,
reconnect, disconnect and delete-session. Observed messages are relayed to
the host application's webhook.

Examples:
  zapgate serve
  zapgate setup
  zapgate health`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newHealthCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
