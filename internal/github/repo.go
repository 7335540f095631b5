package github

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidRepoURL is returned when no owner/repo pair can be found.
var ErrInvalidRepoURL = errors.New("invalid GitHub repository URL")

var (
	// Matches github.com/<owner>/<repo> anywhere, so issue, tree and
	// clone URLs all resolve to their repository.
	repoURLPattern = regexp.MustCompile(`github\.com[/:]([^/\s?#]+)/([^/\s?#]+)`)

	// owner/repo shorthand.
	shorthandPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9-]*)/([A-Za-z0-9._-]+)$`)
)

// ParseRepoURL extracts owner and repository name from a GitHub URL or
// an owner/repo shorthand.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	s := strings.TrimSpace(raw)

	m := repoURLPattern.FindStringSubmatch(s)
	if m == nil {
		m = shorthandPattern.FindStringSubmatch(s)
	}
	if m == nil {
		return "", "", ErrInvalidRepoURL
	}

	owner = m[1]
	repo = strings.TrimSuffix(m[2], ".git")
	if owner == "" || repo == "" || repo == "." || repo == ".." {
		return "", "", ErrInvalidRepoURL
	}
	return owner, repo, nil
}
