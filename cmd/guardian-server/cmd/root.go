package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/guardian-engine/internal/config"
	"github.com/oshokin/guardian-engine/internal/service/server"
	"github.com/oshokin/guardian-engine/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// sessionFile path where alert sessions are persisted by the file backend.
	sessionFile string

	// rootCmd represents the base command for running the engine daemon.
	rootCmd = &cobra.Command{
		Use:   "guardian-server [listen-address]",
		Short: "Run the alert orchestration engine.",
		Long: `Starts the guardian engine that turns distress triggers into managed
alert sessions: confirmation with a cancel window, contact notification with
retries, live location capture and fallback dispatch escalation.

The server listens on the configured address; a listen address argument
overrides the configuration (e.g., :9090, 0.0.0.0:8080). With the file store
backend, sessions are persisted to JSON so in-flight emergencies survive a
restart.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				SessionFile:   sessionFile,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the guardian-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&sessionFile, "session-file", "s", config.DefaultSessionFilename, "path to persist alert sessions")
}
