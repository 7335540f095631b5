package observability

import "context"

// NoOpTracer is used when Langfuse is not configured.
type NoOpTracer struct{}

func (n *NoOpTracer) StartTrace(name string, opts TraceOptions) TraceContext {
	return TraceContext{TraceID: opts.TraceID, Name: name}
}

func (n *NoOpTracer) RecordGeneration(_ TraceContext, _ GenerationInput) {}

func (n *NoOpTracer) CompleteTrace(_ TraceContext, _ CompleteOptions) {}

func (n *NoOpTracer) Flush(_ context.Context) error { return nil }

func (n *NoOpTracer) Stop(_ context.Context) error { return nil }
