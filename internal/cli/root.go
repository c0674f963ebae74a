package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	jsonLog bool
	apiKey  string
	apiURL  string
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "sandboxpoolctl",
	Short: "Operator CLI for the sandbox pool",
	Long: `sandboxpoolctl drives a running sandboxpool-server by hand: inspect
pool stats, tail the live event feed, pre-warm the ready queue, or run
one command against a tracked sandbox.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

		if !jsonLog {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		}

		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "Output logs in JSON format")
	RootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SANDBOX_API_KEY"), "API key for the ops surface")
	RootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "Base URL of a running sandboxpool-server")
}
