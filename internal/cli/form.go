package cli

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andywolf/issue-assistant/internal/form"
	"github.com/andywolf/issue-assistant/internal/security"
	"github.com/andywolf/issue-assistant/internal/transport"
	"github.com/andywolf/issue-assistant/internal/tui"
)

var formCmd = &cobra.Command{
	Use:   "form",
	Short: "Open the interactive analyze form",
	Long: `Open a terminal form with a repository URL field, an issue number field
and Analyze / Copy JSON actions. Requests go to the backend URL
(backend.url, default ` + "`" + form.DefaultEndpoint + "`" + `).`,
	RunE: runForm,
}

func init() {
	formCmd.Flags().String("repo", "", "prefill the repository URL")
	formCmd.Flags().Int("issue", 0, "prefill the issue number")
	formCmd.Flags().String("backend-url", "", "analyze endpoint to post to (overrides backend.url)")

	rootCmd.AddCommand(formCmd)
}

func runForm(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if u, _ := cmd.Flags().GetString("backend-url"); u != "" {
		cfg.Backend.URL = u
	}

	cleanup, err := setupLogging(ctx, cfg, security.NewScrubber(), "issue-assistant-form")
	if err != nil {
		return err
	}
	defer cleanup()

	view := tui.NewTerminalView(cmd.OutOrStdout(), cmd.OutOrStdout())
	repo, _ := cmd.Flags().GetString("repo")
	issue, _ := cmd.Flags().GetInt("issue")
	view.SetInputs(repo, prefillIssue(issue))

	if !tui.ClipboardAvailable() {
		logger.Warn("No system clipboard found; copied JSON will not reach other applications")
	}

	controller := form.NewController(
		view,
		transport.NewHTTPTransport(transport.WithTimeout(cfg.BackendTimeout())),
		&tui.DialogNotifier{},
		tui.SystemClipboard{},
		form.WithEndpoint(cfg.Backend.URL),
	)

	logger.WithField("endpoint", controller.Endpoint()).Debug("Starting analyze form")
	return tui.RunForm(ctx, controller, view)
}

func prefillIssue(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
