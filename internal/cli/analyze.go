package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andywolf/issue-assistant/internal/form"
	"github.com/andywolf/issue-assistant/internal/security"
	"github.com/andywolf/issue-assistant/internal/transport"
	"github.com/andywolf/issue-assistant/internal/tui"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one issue and print the result",
	Long: `Post a single analyze request to the backend and print the JSON answer.

Errors reported by the backend and network failures are written to stderr
and the command exits non-zero.

Example:
  issue-assistant analyze --repo https://github.com/octocat/Hello-World --issue 42
  issue-assistant analyze --repo octocat/Hello-World --issue 42 --output yaml --copy`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().String("repo", "", "repository URL (required)")
	analyzeCmd.Flags().String("issue", "", "issue number (required)")
	analyzeCmd.Flags().StringP("output", "o", "json", "output format: json or yaml")
	analyzeCmd.Flags().Bool("copy", false, "copy the JSON result to the clipboard")
	analyzeCmd.Flags().String("backend-url", "", "analyze endpoint to post to (overrides backend.url)")
	_ = analyzeCmd.MarkFlagRequired("repo")
	_ = analyzeCmd.MarkFlagRequired("issue")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format, _ := cmd.Flags().GetString("output")
	if format != "json" && format != "yaml" {
		return fmt.Errorf("invalid output format %q (must be json or yaml)", format)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if u, _ := cmd.Flags().GetString("backend-url"); u != "" {
		cfg.Backend.URL = u
	}

	cleanup, err := setupLogging(ctx, cfg, security.NewScrubber(), "issue-assistant-cli")
	if err != nil {
		return err
	}
	defer cleanup()

	statusOut := io.Discard
	if viper.GetBool("verbose") {
		statusOut = cmd.ErrOrStderr()
	}
	view := tui.NewTerminalView(statusOut, nil)

	repo, _ := cmd.Flags().GetString("repo")
	issue, _ := cmd.Flags().GetString("issue")
	view.SetInputs(repo, issue)

	controller := form.NewController(
		view,
		transport.NewHTTPTransport(transport.WithTimeout(cfg.BackendTimeout())),
		&tui.WriterNotifier{W: cmd.ErrOrStderr()},
		tui.SystemClipboard{},
		form.WithEndpoint(cfg.Backend.URL),
	)

	switch outcome := controller.Analyze(ctx); outcome {
	case form.OutcomeSuccess:
	case form.OutcomeInvalid:
		return fmt.Errorf("%s", view.Status())
	default:
		return fmt.Errorf("analysis failed (%s)", outcome)
	}

	result := view.Output()
	if format == "yaml" {
		if result, err = jsonToYAML(result); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(result, "\n"))

	if copyResult, _ := cmd.Flags().GetBool("copy"); copyResult {
		controller.Copy()
		fmt.Fprintln(cmd.ErrOrStderr(), view.Status())
	}
	return nil
}
