// Package form implements the analyze form: validate the two inputs, post
// them to the analyze endpoint and render the JSON answer.
package form

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "form")

// DefaultEndpoint is where the backend listens when run locally.
const DefaultEndpoint = "http://localhost:8000/analyze_issue"

// Status lines.
const (
	StatusInvalid   = "Please enter both repository URL and issue number."
	StatusAnalyzing = "Analyzing issue..."
	StatusDone      = "Done. Review the analysis below."
	StatusNoOutput  = "Nothing to copy."
	StatusCopied    = "JSON copied to clipboard."

	unknownBackendError = "Unknown error from backend"
)

// Outcome is how an Analyze call ended.
type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeSuccess
	OutcomeBackendError
	OutcomeTransportError
	// OutcomeBusy means another Analyze call was still in flight.
	OutcomeBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInvalid:
		return "invalid"
	case OutcomeSuccess:
		return "success"
	case OutcomeBackendError:
		return "backend_error"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeBusy:
		return "busy"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Request is the analyze request body.
type Request struct {
	RepoURL     string `json:"repo_url"`
	IssueNumber int64  `json:"issue_number"`
}

// Controller drives the form. It is safe to call from several goroutines;
// only one Analyze runs at a time.
type Controller struct {
	view      View
	transport Transport
	notifier  Notifier
	clipboard Clipboard
	endpoint  string

	inFlight atomic.Bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithEndpoint overrides DefaultEndpoint.
func WithEndpoint(url string) Option {
	return func(c *Controller) {
		if url != "" {
			c.endpoint = url
		}
	}
}

// NewController wires the controller to its collaborators.
func NewController(view View, transport Transport, notifier Notifier, clipboard Clipboard, opts ...Option) *Controller {
	c := &Controller{
		view:      view,
		transport: transport,
		notifier:  notifier,
		clipboard: clipboard,
		endpoint:  DefaultEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL requests are posted to.
func (c *Controller) Endpoint() string {
	return c.endpoint
}

// Analyze validates the inputs, posts them and renders the outcome.
func (c *Controller) Analyze(ctx context.Context) Outcome {
	if !c.inFlight.CompareAndSwap(false, true) {
		return OutcomeBusy
	}
	defer c.inFlight.Store(false)

	req, ok := c.readRequest()
	if !ok {
		c.view.SetStatus(StatusInvalid)
		return OutcomeInvalid
	}

	c.view.SetStatus(StatusAnalyzing)
	c.view.SetAnalyzeEnabled(false)
	defer c.view.SetAnalyzeEnabled(true)

	outcome := c.send(ctx, req)
	logger.WithFields(log.Fields{
		"repo_url": req.RepoURL,
		"issue":    req.IssueNumber,
		"outcome":  outcome.String(),
	}).Debug("Analyze finished")
	return outcome
}

func (c *Controller) readRequest() (Request, bool) {
	repoURL := strings.TrimSpace(c.view.RepoURL())
	number, ok := parseIssueNumber(c.view.IssueNumber())
	if repoURL == "" || !ok {
		return Request{}, false
	}
	return Request{RepoURL: repoURL, IssueNumber: number}, true
}

func (c *Controller) send(ctx context.Context, req Request) Outcome {
	body, err := json.Marshal(req)
	if err != nil {
		return c.transportFailure(err.Error())
	}

	resp, err := c.transport.PostJSON(ctx, c.endpoint, body)
	if err != nil {
		return c.transportFailure(err.Error())
	}

	if !resp.OK() {
		if isJSONNull(resp.Body) {
			return c.transportFailure("error response body was null")
		}
		msg := "Error: " + errorDetail(resp.Body)
		c.view.SetStatus(msg)
		c.notifier.Alert(msg)
		return OutcomeBackendError
	}

	out, err := prettyJSON(resp.Body)
	if err != nil {
		return c.transportFailure("invalid JSON in response: " + err.Error())
	}

	c.view.SetOutput(out)
	c.view.ShowResult()
	c.view.SetStatus(StatusDone)
	return OutcomeSuccess
}

func (c *Controller) transportFailure(message string) Outcome {
	msg := "Network error: " + message
	c.view.SetStatus(msg)
	c.notifier.Alert(msg)
	return OutcomeTransportError
}

// Copy puts the rendered JSON on the clipboard. Clipboard failures are
// only logged.
func (c *Controller) Copy() {
	text := c.view.Output()
	if strings.TrimSpace(text) == "" {
		c.view.SetStatus(StatusNoOutput)
		return
	}

	if err := c.clipboard.WriteText(text); err != nil {
		logger.WithError(err).Debug("Clipboard write failed")
	}
	c.view.SetStatus(StatusCopied)
}

// parseIssueNumber reads a decimal number and rejects zero, non-finite
// values and fractions.
func parseIssueNumber(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, n != 0
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	if f == 0 || math.Abs(f) >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// errorDetail picks the message shown for a non-2xx response: a non-empty
// string "detail", else compact JSON of a truthy "detail", else compact
// JSON of the whole body.
func errorDetail(body []byte) string {
	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return unknownBackendError
	}

	if obj, ok := parsed.(map[string]interface{}); ok && truthy(obj["detail"]) {
		if s, ok := obj["detail"].(string); ok {
			return s
		}
		var raw map[string]json.RawMessage
		if json.Unmarshal(body, &raw) == nil {
			return compact(raw["detail"])
		}
	}

	return compact(body)
}

// isJSONNull reports a body that parses to null, which has no detail to read.
func isJSONNull(body []byte) bool {
	var v interface{}
	return json.Unmarshal(body, &v) == nil && v == nil
}

// compact prints raw the way JSON.stringify does without indentation.
func compact(raw []byte) string {
	out, err := stringify(raw, "")
	if err != nil {
		return string(raw)
	}
	return out
}

// truthy follows JavaScript truthiness for decoded JSON values.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
