package github

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v54/github"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/andywolf/issue-assistant/internal/version"
)

var logger = log.WithField("package", "github")

// ErrIssueNotFound is returned when the repository or issue does not exist
// or is not visible with the current credentials.
var ErrIssueNotFound = errors.New("issue not found")

// Issue is the part of a GitHub issue the analyzer reads.
type Issue struct {
	Owner         string
	Repo          string
	Number        int
	Title         string
	Body          string
	State         string
	Author        string
	URL           string
	Labels        []string
	IsPullRequest bool
	Comments      []Comment
}

// Comment is a single issue comment.
type Comment struct {
	Author string
	Body   string
}

// IssueFetcher loads an issue with its comments.
type IssueFetcher interface {
	FetchIssue(ctx context.Context, owner, repo string, number int) (*Issue, error)
}

// Client fetches issues through go-github.
type Client struct {
	gh *gogithub.Client
}

var _ IssueFetcher = (*Client)(nil)

// Options configures NewClient.
type Options struct {
	// BaseURL is a GitHub Enterprise API root; empty means github.com.
	BaseURL string
	// TokenSource authenticates requests; nil means anonymous.
	TokenSource oauth2.TokenSource
	// Timeout bounds each API request. Zero means 30 seconds.
	Timeout time.Duration
}

// NewClient builds a Client from opts.
func NewClient(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if opts.TokenSource != nil {
		httpClient.Transport = &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, opts.TokenSource),
			Base:   http.DefaultTransport,
		}
	}

	gh := gogithub.NewClient(httpClient)
	if opts.BaseURL != "" {
		var err error
		gh, err = gogithub.NewEnterpriseClient(opts.BaseURL, opts.BaseURL, httpClient)
		if err != nil {
			return nil, errors.Wrap(err, "creating GitHub Enterprise client")
		}
	}
	gh.UserAgent = version.UserAgent()

	return &Client{gh: gh}, nil
}

// newClientForTest points a Client at an httptest server.
func newClientForTest(serverURL string) *Client {
	gh := gogithub.NewClient(nil)
	u, _ := url.Parse(strings.TrimSuffix(serverURL, "/") + "/")
	gh.BaseURL = u
	return &Client{gh: gh}
}

// StaticTokenSource wraps a personal access or installation token.
func StaticTokenSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

// FetchIssue loads the issue and, when it has any, all of its comments.
func (c *Client) FetchIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	ghIssue, _, err := c.gh.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrIssueNotFound
		}
		return nil, errors.Wrap(err, "getting issue from GitHub API")
	}

	issue := &Issue{
		Owner:         owner,
		Repo:          repo,
		Number:        ghIssue.GetNumber(),
		Title:         ghIssue.GetTitle(),
		Body:          ghIssue.GetBody(),
		State:         ghIssue.GetState(),
		Author:        ghIssue.GetUser().GetLogin(),
		URL:           ghIssue.GetHTMLURL(),
		IsPullRequest: ghIssue.IsPullRequest(),
	}
	for _, l := range ghIssue.Labels {
		issue.Labels = append(issue.Labels, l.GetName())
	}

	if ghIssue.GetComments() > 0 {
		comments, err := c.listComments(ctx, owner, repo, number)
		if err != nil {
			return nil, err
		}
		issue.Comments = comments
	}

	logger.WithFields(log.Fields{
		"repo":     owner + "/" + repo,
		"issue":    number,
		"comments": len(issue.Comments),
	}).Debug("Fetched issue")

	return issue, nil
}

func (c *Client) listComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	opts := &gogithub.IssueListCommentsOptions{
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}

	var comments []Comment
	for {
		page, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, errors.Wrap(err, "listing issue comments from GitHub API")
		}
		for _, ic := range page {
			comments = append(comments, Comment{
				Author: ic.GetUser().GetLogin(),
				Body:   ic.GetBody(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return comments, nil
		}
		opts.Page = resp.NextPage
	}
}

func isNotFound(err error) bool {
	var errResp *gogithub.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode == http.StatusNotFound
	}
	return false
}
