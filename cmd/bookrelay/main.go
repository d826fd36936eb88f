package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
	"github.com/bookrelay/bookrelay/internal/bookrelay/server"
	"github.com/bookrelay/bookrelay/internal/bookrelay/worker"
)

var configFile string

var errorLabel = color.New(color.FgRed)

var rootCmd = &cobra.Command{
	Use:   "bookrelay [command] [flags]",
	Short: "Bookrelay - booking session server with CAPTCHA relay",
	Long: `Bookrelay accepts booking requests over HTTP, shows the provider CAPTCHA to the
user and completes the booking with a worker once the answer is submitted.

Examples:
  # Run the HTTP server
  bookrelay serve --config /etc/bookrelay/bookrelay.conf

  # Print version information
  bookrelay version`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "", relaycommon.DefaultConfigFile, "Path to the config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Bookrelay Server: %s\n", server.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "API: %s\n", server.ApiVersion)
			fmt.Fprintf(cmd.OutOrStdout(), "Worker protocol: %s\n", worker.ProtocolVersion)
		},
	}
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
