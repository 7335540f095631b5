// Package observability records analysis runs and their LLM calls.
package observability

import (
	"context"
	"time"
)

// Tracer records one trace per analyze request. Each trace carries the
// model generation that produced (or failed to produce) the analysis.
//
//	Analysis (Trace)
//	  └── analyze-issue (Generation)
type Tracer interface {
	StartTrace(name string, opts TraceOptions) TraceContext
	RecordGeneration(trace TraceContext, gen GenerationInput)
	CompleteTrace(trace TraceContext, opts CompleteOptions)
	Flush(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TraceContext holds the context for an active trace.
type TraceContext struct {
	TraceID  string
	Name     string
	Metadata map[string]string
}

// TraceOptions configures a new trace.
type TraceOptions struct {
	// TraceID reuses an existing identifier such as a request ID. Empty
	// means a new UUID.
	TraceID     string
	Repository  string
	IssueNumber int
}

// GenerationInput describes an LLM invocation to record.
type GenerationInput struct {
	Name         string
	Model        string
	Input        string
	Output       string
	InputTokens  int
	OutputTokens int
	Status       string // "completed" or "error"
	StartTime    time.Time
	DurationMs   int64
}

// CompleteOptions configures trace completion.
type CompleteOptions struct {
	Status     string // "completed" or "failed"
	HTTPStatus int
	Detail     string
}
