package cli

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/andywolf/issue-assistant/internal/config"
	"github.com/andywolf/issue-assistant/internal/logging"
	"github.com/andywolf/issue-assistant/internal/security"
	"github.com/andywolf/issue-assistant/internal/version"
)

var logger = log.WithField("package", "cli")

// setupLogging configures the standard logrus logger and, when a GCP
// project is configured, ships entries to Cloud Logging under logID. The
// returned func flushes and closes the hook.
func setupLogging(ctx context.Context, cfg *config.Config, scrubber *security.Scrubber, logID string) (func(), error) {
	std := log.StandardLogger()
	std.SetOutput(os.Stderr)
	if err := logging.Configure(std, cfg.Log.Level, cfg.Log.Format, scrubber); err != nil {
		return func() {}, err
	}

	if cfg.Log.GCPProject == "" {
		return func() {}, nil
	}

	hook, err := logging.NewCloudHook(ctx, cfg.Log.GCPProject, logID, map[string]string{
		"version": version.Short(),
	})
	if err != nil {
		return func() {}, fmt.Errorf("failed to create Cloud Logging hook: %w", err)
	}
	std.AddHook(hook)

	return func() {
		if err := hook.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to flush Cloud Logging:", err)
		}
	}, nil
}
