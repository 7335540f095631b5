// Package tui renders the analyze form in a terminal.
package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/andywolf/issue-assistant/internal/form"
)

// TerminalView implements form.View. Status lines go to one writer and the
// revealed result block to another; a nil result writer keeps the result
// in memory only.
type TerminalView struct {
	mu sync.Mutex

	status io.Writer
	result io.Writer

	repoURL     string
	issueNumber string
	output      string
	lastStatus  string
	enabled     bool
	shown       bool

	styles styles
}

var _ form.View = (*TerminalView)(nil)

type styles struct {
	info    lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	result  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		info:    r.NewStyle().Faint(true),
		success: r.NewStyle().Foreground(lipgloss.Color("10")),
		failure: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		result: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1),
	}
}

// NewTerminalView creates a view. Colours follow what statusOut supports.
func NewTerminalView(statusOut, resultOut io.Writer) *TerminalView {
	return &TerminalView{
		status:  statusOut,
		result:  resultOut,
		enabled: true,
		styles:  newStyles(lipgloss.NewRenderer(statusOut)),
	}
}

// SetInputs stores the field values the next Analyze reads.
func (v *TerminalView) SetInputs(repoURL, issueNumber string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.repoURL = repoURL
	v.issueNumber = issueNumber
}

func (v *TerminalView) RepoURL() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.repoURL
}

func (v *TerminalView) IssueNumber() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.issueNumber
}

func (v *TerminalView) SetStatus(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastStatus = text
	fmt.Fprintln(v.status, v.styleFor(text).Render(text))
}

// Status returns the last status line.
func (v *TerminalView) Status() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastStatus
}

func (v *TerminalView) styleFor(text string) lipgloss.Style {
	switch {
	case strings.HasPrefix(text, "Error:"), strings.HasPrefix(text, "Network error:"):
		return v.styles.failure
	case text == form.StatusDone, text == form.StatusCopied:
		return v.styles.success
	default:
		return v.styles.info
	}
}

func (v *TerminalView) SetAnalyzeEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enabled = enabled
}

// AnalyzeEnabled reports the trigger state.
func (v *TerminalView) AnalyzeEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

func (v *TerminalView) SetOutput(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.output = text
	if v.shown {
		v.renderResult()
	}
}

func (v *TerminalView) Output() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.output
}

func (v *TerminalView) ShowResult() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shown {
		return
	}
	v.shown = true
	v.renderResult()
}

// ResultShown reports whether the result area has been revealed.
func (v *TerminalView) ResultShown() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shown
}

// renderResult writes the boxed output. Caller holds mu.
func (v *TerminalView) renderResult() {
	if v.result == nil || v.output == "" {
		return
	}
	fmt.Fprintln(v.result, v.styles.result.Render(v.output))
}
