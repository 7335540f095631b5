package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/andywolf/issue-assistant/internal/events"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent analyze requests",
	Long: `Read the server's request history (server.history_file) and list the
most recent entries.

Example:
  issue-assistant history --limit 20
  issue-assistant history --type failed --repo https://github.com/octocat/Hello-World
  issue-assistant history --json`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().String("file", "", "history file to read (overrides server.history_file)")
	historyCmd.Flags().StringSlice("type", nil, "only show these types (succeeded, failed, rejected)")
	historyCmd.Flags().String("repo", "", "only show requests for this repository URL")
	historyCmd.Flags().Int("limit", 50, "number of most recent entries to show (0 for all)")
	historyCmd.Flags().Bool("json", false, "print entries as JSON lines")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		path = cfg.Server.HistoryFile
	}
	if path == "" {
		return fmt.Errorf("no history file configured (set server.history_file or pass --file)")
	}

	rawTypes, _ := cmd.Flags().GetStringSlice("type")
	var types []events.Type
	for _, t := range rawTypes {
		if !events.IsValidType(t) {
			return fmt.Errorf("invalid event type %q", t)
		}
		types = append(types, events.Type(t))
	}

	all, err := events.ReadEvents(path)
	if err != nil {
		return err
	}

	repo, _ := cmd.Flags().GetString("repo")
	limit, _ := cmd.Flags().GetInt("limit")
	selected := events.Last(events.FilterByRepo(events.FilterByType(all, types...), repo), limit)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, e := range selected {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	return printHistory(cmd.OutOrStdout(), selected)
}

func printHistory(w io.Writer, list []events.Event) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No requests recorded.")
		return err
	}

	fmt.Fprintf(w, "%-19s %-10s %-6s %-45s %-8s %s\n", "TIME", "TYPE", "STATUS", "ISSUE", "DURATION", "DETAIL")
	for _, e := range list {
		issue := e.RepoURL
		if e.IssueNumber > 0 {
			issue = fmt.Sprintf("%s#%d", e.RepoURL, e.IssueNumber)
		}
		fmt.Fprintf(w, "%-19s %-10s %-6d %-45s %-8s %s\n",
			e.Timestamp.Local().Format(time.DateTime),
			e.Type,
			e.Status,
			issue,
			(time.Duration(e.DurationMs) * time.Millisecond).String(),
			firstLine(e.Detail),
		)
	}
	_, err := fmt.Fprintf(w, "\n%d request(s) shown.\n", len(list))
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
