package form

import "context"

// View is the set of UI surfaces the controller reads and writes.
type View interface {
	RepoURL() string
	IssueNumber() string
	SetStatus(text string)
	SetAnalyzeEnabled(enabled bool)
	SetOutput(text string)
	Output() string
	// ShowResult reveals the result area. It is never hidden again.
	ShowResult()
}

// Response is a completed HTTP exchange, whatever its status.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport sends one JSON request. An error means the exchange did not
// complete; HTTP error statuses come back as a Response.
type Transport interface {
	PostJSON(ctx context.Context, url string, body []byte) (*Response, error)
}

// Notifier shows a message the user has to acknowledge.
type Notifier interface {
	Alert(message string)
}

// Clipboard writes text to the system clipboard.
type Clipboard interface {
	WriteText(text string) error
}
