package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/andywolf/issue-assistant/internal/form"
)

const (
	actionAnalyze = "analyze"
	actionCopy    = "copy"
	actionQuit    = "quit"
)

// Actions is what the form loop drives.
type Actions interface {
	Analyze(ctx context.Context) form.Outcome
	Copy()
}

// RunForm shows the form until the user quits or ctx ends. Field values
// persist between rounds.
func RunForm(ctx context.Context, actions Actions, view *TerminalView) error {
	repoURL := view.RepoURL()
	issueNumber := view.IssueNumber()

	for {
		action := actionAnalyze
		if view.ResultShown() {
			action = actionCopy
		}

		f := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Repository URL").
					Placeholder("https://github.com/owner/repo").
					Value(&repoURL),

				huh.NewInput().
					Title("Issue number").
					Placeholder("42").
					Value(&issueNumber),

				huh.NewSelect[string]().
					Title("Action").
					Options(actionOptions(view)...).
					Value(&action),
			),
		)

		if err := f.RunWithContext(ctx); err != nil {
			if errors.Is(err, huh.ErrUserAborted) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("form: %w", err)
		}

		view.SetInputs(repoURL, issueNumber)
		if !dispatch(ctx, actions, action) {
			return nil
		}
	}
}

func actionOptions(view *TerminalView) []huh.Option[string] {
	opts := []huh.Option[string]{}
	if view.AnalyzeEnabled() {
		opts = append(opts, huh.NewOption("Analyze", actionAnalyze))
	}
	opts = append(opts,
		huh.NewOption("Copy JSON", actionCopy),
		huh.NewOption("Quit", actionQuit),
	)
	return opts
}

// dispatch runs one action and reports whether the loop continues.
func dispatch(ctx context.Context, actions Actions, action string) bool {
	switch strings.ToLower(action) {
	case actionAnalyze:
		actions.Analyze(ctx)
	case actionCopy:
		actions.Copy()
	case actionQuit:
		return false
	}
	return ctx.Err() == nil
}
