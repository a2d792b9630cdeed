package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/guardian-engine/internal/config"
	"github.com/oshokin/guardian-engine/internal/logger"
)

// defaultPressSpacing is the gap between simulated button presses, well
// inside the engine's press window.
const defaultPressSpacing = 200 * time.Millisecond

// errNotTriggered is returned when the engine never reported the pattern
// complete.
var errNotTriggered = errors.New("button pattern did not trigger")

// Options configures the guardian client operations.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerURL overrides the engine URL derived from config when specified.
	ServerURL string

	// UserID identifies the user the operation acts on.
	UserID string

	// SessionID identifies the session for resolve operations.
	SessionID string

	// Confidence is the detection score for voice triggers.
	Confidence float64

	// Presses is how many button presses to simulate.
	Presses int
}

// connect loads settings and builds a client for the engine.
func connect(opts *Options) (*Client, error) {
	serverURL := opts.ServerURL

	if serverURL == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}

		serverURL, err = BaseURLFromListenAddress(cfg.ListenAddress)
		if err != nil {
			return nil, err
		}
	}

	return New(serverURL)
}

// RunButton simulates a burst of button presses and reports the outcome.
func RunButton(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "guardian-trigger")

	engineClient, err := connect(opts)
	if err != nil {
		return err
	}

	presses := opts.Presses
	if presses <= 0 {
		presses = 3
	}

	logger.InfoKV(ctx, "Sending button presses", "user_id", opts.UserID, "presses", presses)

	for press := 0; press < presses; press++ {
		if press > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(defaultPressSpacing):
			}
		}

		opened, err := engineClient.PressButton(ctx, opts.UserID, time.Now().UTC())
		if err != nil {
			return err
		}

		if opened != nil {
			logger.Infof(ctx, "Alert session opened: %s", formatSession(opened))

			return nil
		}
	}

	return errNotTriggered
}

// RunVoice opens a session from a pre-scored voice detection.
func RunVoice(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "guardian-trigger")

	engineClient, err := connect(opts)
	if err != nil {
		return err
	}

	opened, err := engineClient.TriggerVoice(ctx, opts.UserID, opts.Confidence)
	if err != nil {
		return err
	}

	logger.Infof(ctx, "Alert session opened: %s", formatSession(opened))

	return nil
}

// RunCancel aborts the user's session during its grace window.
func RunCancel(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "guardian-trigger")

	engineClient, err := connect(opts)
	if err != nil {
		return err
	}

	cancelled, err := engineClient.Cancel(ctx, opts.UserID)
	if err != nil {
		return err
	}

	logger.Infof(ctx, "Alert session cancelled: %s", formatSession(cancelled))

	return nil
}

// RunResolve closes the session.
func RunResolve(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "guardian-trigger")

	engineClient, err := connect(opts)
	if err != nil {
		return err
	}

	resolved, err := engineClient.Resolve(ctx, opts.SessionID)
	if err != nil {
		return err
	}

	logger.Infof(ctx, "Alert session resolved: %s", formatSession(resolved))

	return nil
}

// RunStatus prints the user's active session, if any.
func RunStatus(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "guardian-trigger")

	engineClient, err := connect(opts)
	if err != nil {
		return err
	}

	active, err := engineClient.Active(ctx, opts.UserID)
	if err != nil {
		return err
	}

	logger.Infof(ctx, "Active session: %s", formatSession(active))

	return nil
}

// formatSession converts a session to a readable log message.
func formatSession(s *Session) string {
	if s == nil {
		return "<nil session>"
	}

	suffix := ""
	if s.FallbackRequired {
		suffix = ", fallback required"
	}

	return fmt.Sprintf("%s (%s, %d contacts%s)", s.SessionID, s.State, s.ContactCount, suffix)
}
