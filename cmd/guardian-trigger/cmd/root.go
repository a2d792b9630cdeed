package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/guardian-engine/internal/config"
	"github.com/oshokin/guardian-engine/internal/service/client"
	"github.com/oshokin/guardian-engine/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// serverURL overrides the engine URL derived from configuration.
	serverURL string
	// userID identifies the user the operation acts on.
	userID string
	// sessionID identifies the session for resolve.
	sessionID string
	// confidence is the detection score for voice triggers.
	confidence float64
	// presses is how many button presses to simulate.
	presses int

	// rootCmd represents the base command for the guardian client.
	rootCmd = &cobra.Command{
		Use:   "guardian-trigger",
		Short: "Send triggers and lifecycle commands to the guardian engine.",
		Long: `Client for the guardian engine API.

Simulates the hardware button and voice-phrase triggers, cancels a session
during its grace window, resolves a dispatching session and reports the
active session. The engine URL is derived from the configuration file unless
--server is provided.`,
	}

	buttonCmd = &cobra.Command{
		Use:   "button",
		Short: "Simulate a triple button press.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return client.RunButton(signalContext(), clientOptions())
		},
	}

	voiceCmd = &cobra.Command{
		Use:   "voice",
		Short: "Send a voice-phrase detection.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return client.RunVoice(signalContext(), clientOptions())
		},
	}

	cancelCmd = &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active session during its grace window.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return client.RunCancel(signalContext(), clientOptions())
		},
	}

	resolveCmd = &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a session.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return client.RunResolve(signalContext(), clientOptions())
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the user's active session.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return client.RunStatus(signalContext(), clientOptions())
		},
	}
)

// signalContext builds a context cancelled by SIGTERM/SIGINT.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	return ctx
}

// clientOptions collects the shared flags into client options.
func clientOptions() *client.Options {
	return &client.Options{
		ConfigPath: configPath,
		ServerURL:  serverURL,
		UserID:     userID,
		SessionID:  sessionID,
		Confidence: confidence,
		Presses:    presses,
	}
}

// Execute runs the guardian-trigger CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "engine URL (overrides configuration)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user the operation acts on")

	buttonCmd.Flags().IntVar(&presses, "presses", 3, "how many presses to send")
	voiceCmd.Flags().Float64Var(&confidence, "confidence", 1.0, "detection confidence")
	resolveCmd.Flags().StringVar(&sessionID, "session", "", "session to resolve")

	rootCmd.AddCommand(buttonCmd, voiceCmd, cancelCmd, resolveCmd, statusCmd)
}
