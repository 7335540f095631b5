// Package analysis turns a GitHub issue into a structured triage summary
// by prompting a chat model and extracting the JSON it returns.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/andywolf/issue-assistant/internal/github"
	"github.com/andywolf/issue-assistant/internal/llm"
	"github.com/andywolf/issue-assistant/internal/observability"
	"github.com/andywolf/issue-assistant/internal/security"
	prompts "github.com/andywolf/issue-assistant/prompts/analysis"
)

var logger = log.WithField("package", "analysis")

const generationName = "analyze-issue"

// Request identifies the issue to analyze.
type Request struct {
	RepoURL     string
	IssueNumber int
	// RequestID becomes the trace ID when set.
	RequestID string
}

// Options tunes the model call and text preparation.
type Options struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxIssueChars int
	StripHTML     bool
}

// DefaultOptions mirrors the hosted backend.
func DefaultOptions() Options {
	return Options{
		Model:         llm.DefaultModel,
		Temperature:   0,
		MaxTokens:     llm.DefaultMaxTokens,
		MaxIssueChars: 15000,
		StripHTML:     true,
	}
}

// Analyzer runs the analyze pipeline.
type Analyzer struct {
	issues   github.IssueFetcher
	llm      llm.Completer
	prompt   *prompts.Prompt
	tracer   observability.Tracer
	scrubber *security.Scrubber
	cleaner  *textCleaner
	opts     Options
}

// Deps are the collaborators an Analyzer needs. Tracer and Scrubber are
// optional.
type Deps struct {
	Issues   github.IssueFetcher
	LLM      llm.Completer
	Prompt   *prompts.Prompt
	Tracer   observability.Tracer
	Scrubber *security.Scrubber
}

// New builds an Analyzer.
func New(deps Deps, opts Options) (*Analyzer, error) {
	if deps.Issues == nil {
		return nil, fmt.Errorf("issue fetcher is required")
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("chat client is required")
	}

	prompt := deps.Prompt
	if prompt == nil {
		var err error
		if prompt, err = prompts.Load(); err != nil {
			return nil, err
		}
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = &observability.NoOpTracer{}
	}
	scrubber := deps.Scrubber
	if scrubber == nil {
		scrubber = security.NewScrubber()
	}

	return &Analyzer{
		issues:   deps.Issues,
		llm:      deps.LLM,
		prompt:   prompt,
		tracer:   tracer,
		scrubber: scrubber,
		cleaner:  newTextCleaner(opts.StripHTML),
		opts:     opts,
	}, nil
}

// Analyze fetches the issue, asks the model for a triage summary and
// returns the JSON object it produced. Failures are *Error values.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (json.RawMessage, error) {
	entry := logger.WithFields(log.Fields{
		"repo_url": req.RepoURL,
		"issue":    req.IssueNumber,
	})
	if req.RequestID != "" {
		entry = entry.WithField("request_id", req.RequestID)
	}

	owner, repo, err := github.ParseRepoURL(req.RepoURL)
	if err != nil {
		return nil, a.fail(entry, observability.TraceContext{}, newError(http.StatusBadRequest, "Invalid GitHub repository URL", err))
	}

	trace := a.tracer.StartTrace(generationName, observability.TraceOptions{
		TraceID:     req.RequestID,
		Repository:  owner + "/" + repo,
		IssueNumber: req.IssueNumber,
	})

	issue, err := a.issues.FetchIssue(ctx, owner, repo, req.IssueNumber)
	if err != nil {
		if errors.Is(err, github.ErrIssueNotFound) {
			return nil, a.fail(entry, trace, newError(http.StatusNotFound, "Issue not found", err))
		}
		return nil, a.fail(entry, trace, newError(http.StatusBadGateway, "GitHub request failed: "+err.Error(), err))
	}

	text := truncate(buildIssueText(issue, a.cleaner), a.opts.MaxIssueChars)

	userPrompt, err := a.prompt.Render(text)
	if err != nil {
		return nil, a.fail(entry, trace, newError(http.StatusInternalServerError, "Prompt rendering failed: "+err.Error(), err))
	}

	content, cerr := a.complete(ctx, trace, userPrompt)
	if cerr != nil {
		return nil, a.fail(entry, trace, cerr)
	}

	result, perr := extractJSON(content)
	if perr != nil {
		return nil, a.fail(entry, trace, perr)
	}

	a.tracer.CompleteTrace(trace, observability.CompleteOptions{Status: "completed", HTTPStatus: http.StatusOK})
	entry.Info("Issue analyzed")
	return result, nil
}

// complete calls the model and records the generation.
func (a *Analyzer) complete(ctx context.Context, trace observability.TraceContext, userPrompt string) (string, *Error) {
	start := time.Now()
	resp, err := a.llm.Complete(ctx, llm.ChatRequest{
		Model: a.opts.Model,
		Messages: []llm.Message{
			{Role: "system", Content: a.prompt.System()},
			{Role: "user", Content: userPrompt},
		},
		Temperature: a.opts.Temperature,
		MaxTokens:   a.opts.MaxTokens,
	})

	gen := observability.GenerationInput{
		Name:       generationName,
		Model:      a.opts.Model,
		Input:      userPrompt,
		StartTime:  start,
		DurationMs: time.Since(start).Milliseconds(),
		Status:     "completed",
	}
	if resp != nil {
		gen.InputTokens = resp.Usage.PromptTokens
		gen.OutputTokens = resp.Usage.CompletionTokens
	}

	if err != nil {
		gen.Status = "error"
		a.tracer.RecordGeneration(trace, gen)
		return "", newError(http.StatusInternalServerError, "LLM request failed: "+err.Error(), err)
	}

	content, err := resp.Content()
	if err != nil {
		gen.Status = "error"
		a.tracer.RecordGeneration(trace, gen)
		return "", newError(http.StatusInternalServerError, "Unexpected LLM response format: "+err.Error(), err)
	}

	gen.Output = content
	a.tracer.RecordGeneration(trace, gen)
	return content, nil
}

// fail scrubs the detail, logs and closes the trace.
func (a *Analyzer) fail(entry *log.Entry, trace observability.TraceContext, e *Error) *Error {
	e.Detail = a.scrubber.Scrub(e.Detail)

	if trace.TraceID != "" {
		a.tracer.CompleteTrace(trace, observability.CompleteOptions{
			Status:     "failed",
			HTTPStatus: e.Status,
			Detail:     e.Detail,
		})
	}

	fields := log.Fields{"status": e.Status}
	if e.Status >= http.StatusInternalServerError {
		entry.WithFields(fields).WithError(e.Cause).Warn("Issue analysis failed")
	} else {
		entry.WithFields(fields).Info("Issue analysis rejected")
	}
	return e
}
