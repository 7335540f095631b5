package analysis

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/andywolf/issue-assistant/internal/github"
)

const truncatedMarker = "\n\n[TRUNCATED]"

// textCleaner removes HTML markup that issue templates and bots embed in
// markdown bodies.
type textCleaner struct {
	policy *bluemonday.Policy
}

func newTextCleaner(strip bool) *textCleaner {
	if !strip {
		return &textCleaner{}
	}
	return &textCleaner{policy: bluemonday.StrictPolicy()}
}

func (c *textCleaner) clean(s string) string {
	if c.policy == nil || !strings.ContainsAny(s, "<&") {
		return s
	}
	// The strict policy escapes what it keeps; undo that so the model sees
	// the original characters.
	return html.UnescapeString(c.policy.Sanitize(s))
}

// buildIssueText joins title, body and comments the way the prompt expects:
// title, blank line, body, blank line, then an optional comments section.
func buildIssueText(issue *github.Issue, cleaner *textCleaner) string {
	var comments string
	if len(issue.Comments) > 0 {
		bodies := make([]string, len(issue.Comments))
		for i, c := range issue.Comments {
			bodies[i] = cleaner.clean(c.Body)
		}
		comments = "\n\nComments:\n" + strings.Join(bodies, "\n---\n")
	}

	return strings.Join([]string{issue.Title, cleaner.clean(issue.Body), comments}, "\n\n")
}

// truncate keeps the first limit characters and marks the cut. A
// non-positive limit disables truncation.
func truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + truncatedMarker
}
