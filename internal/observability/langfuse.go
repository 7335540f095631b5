package observability

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "observability")

const (
	defaultBaseURL  = "https://cloud.langfuse.com"
	ingestionPath   = "/api/public/ingestion"
	flushInterval   = 5 * time.Second
	maxBatchSize    = 50
	eventBufferSize = 1024
	retryDelay      = 500 * time.Millisecond
)

// LangfuseConfig holds Langfuse connection parameters.
type LangfuseConfig struct {
	PublicKey string
	SecretKey string
	BaseURL   string // Defaults to https://cloud.langfuse.com
}

// Enabled reports whether both keys are present.
func (c LangfuseConfig) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// LangfuseTracer buffers ingestion events in a channel and sends them in
// batches, periodically and on Flush or Stop.
type LangfuseTracer struct {
	config     LangfuseConfig
	authHeader string
	client     *http.Client
	events     chan ingestionEvent

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	flushMu  sync.Mutex
}

var _ Tracer = (*LangfuseTracer)(nil)

// NewLangfuseTracer creates a tracer and starts its background flush goroutine.
func NewLangfuseTracer(cfg LangfuseConfig) *LangfuseTracer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	auth := base64.StdEncoding.EncodeToString([]byte(cfg.PublicKey + ":" + cfg.SecretKey))

	t := &LangfuseTracer{
		config:     cfg,
		authHeader: "Basic " + auth,
		client:     &http.Client{Timeout: 10 * time.Second},
		events:     make(chan ingestionEvent, eventBufferSize),
		stopCh:     make(chan struct{}),
	}

	t.wg.Add(1)
	go t.flushLoop()

	return t
}

// New returns a LangfuseTracer when cfg is complete and a NoOpTracer otherwise.
func New(cfg LangfuseConfig) Tracer {
	if !cfg.Enabled() {
		return &NoOpTracer{}
	}
	return NewLangfuseTracer(cfg)
}

// StartTrace creates a Langfuse trace for one analysis.
func (t *LangfuseTracer) StartTrace(name string, opts TraceOptions) TraceContext {
	traceID := opts.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}

	metadata := map[string]string{
		"repository": opts.Repository,
	}
	if opts.IssueNumber > 0 {
		metadata["issue_number"] = strconv.Itoa(opts.IssueNumber)
	}

	t.enqueue(ingestionEvent{
		Type: "trace-create",
		Body: map[string]interface{}{
			"id":        traceID,
			"name":      name,
			"metadata":  metadata,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
	})

	return TraceContext{TraceID: traceID, Name: name, Metadata: metadata}
}

// RecordGeneration records an LLM invocation as a Langfuse generation.
func (t *LangfuseTracer) RecordGeneration(trace TraceContext, gen GenerationInput) {
	start := gen.StartTime
	if start.IsZero() {
		start = time.Now().Add(-time.Duration(gen.DurationMs) * time.Millisecond)
	}
	end := start.Add(time.Duration(gen.DurationMs) * time.Millisecond)

	body := map[string]interface{}{
		"id":      uuid.New().String(),
		"traceId": trace.TraceID,
		"name":    gen.Name,
		"model":   gen.Model,
		"input":   gen.Input,
		"usage": map[string]interface{}{
			"input":  gen.InputTokens,
			"output": gen.OutputTokens,
		},
		"metadata": map[string]interface{}{
			"status":      gen.Status,
			"duration_ms": gen.DurationMs,
		},
		"startTime": start.UTC().Format(time.RFC3339Nano),
		"endTime":   end.UTC().Format(time.RFC3339Nano),
	}
	if gen.Output != "" {
		body["output"] = gen.Output
	}
	if gen.Status == "error" {
		body["level"] = "ERROR"
	}

	t.enqueue(ingestionEvent{Type: "generation-create", Body: body})
}

// CompleteTrace updates the trace with the analysis outcome.
func (t *LangfuseTracer) CompleteTrace(trace TraceContext, opts CompleteOptions) {
	metadata := map[string]interface{}{
		"status": opts.Status,
	}
	if opts.HTTPStatus != 0 {
		metadata["http_status"] = opts.HTTPStatus
	}
	if opts.Detail != "" {
		metadata["detail"] = opts.Detail
	}

	t.enqueue(ingestionEvent{
		Type: "trace-create",
		Body: map[string]interface{}{
			"id":       trace.TraceID,
			"metadata": metadata,
		},
	})
}

// Flush sends all buffered events and waits for completion.
func (t *LangfuseTracer) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	var batch []ingestionEvent
	for {
		select {
		case evt := <-t.events:
			batch = append(batch, evt)
		default:
			if len(batch) > 0 {
				if err := t.sendBatchWithRetry(ctx, batch); err != nil {
					return fmt.Errorf("langfuse flush: %w", err)
				}
			}
			return nil
		}
	}
}

// enqueue drops the event with a warning when the buffer is full.
func (t *LangfuseTracer) enqueue(evt ingestionEvent) {
	evt.ID = uuid.New().String()
	evt.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	select {
	case t.events <- evt:
	default:
		logger.WithField("type", evt.Type).Warn("Langfuse event buffer full, dropping event")
	}
}

func (t *LangfuseTracer) flushLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			t.drainAndSend()
			return
		case <-ticker.C:
			t.drainAndSend()
		}
	}
}

func (t *LangfuseTracer) drainAndSend() {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var batch []ingestionEvent
	for {
		select {
		case evt := <-t.events:
			batch = append(batch, evt)
			if len(batch) >= maxBatchSize {
				if err := t.sendBatchWithRetry(ctx, batch); err != nil {
					logger.WithError(err).Warn("Langfuse batch send failed")
				}
				batch = nil
			}
		default:
			if len(batch) > 0 {
				if err := t.sendBatchWithRetry(ctx, batch); err != nil {
					logger.WithError(err).Warn("Langfuse batch send failed")
				}
			}
			return
		}
	}
}

func (t *LangfuseTracer) sendBatchWithRetry(ctx context.Context, batch []ingestionEvent) error {
	err := t.sendBatch(ctx, batch)
	if err == nil {
		return nil
	}
	logger.WithError(err).Debug("Langfuse batch send failed, retrying")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryDelay):
	}
	return t.sendBatch(ctx, batch)
}

func (t *LangfuseTracer) post(ctx context.Context, batch []ingestionEvent) (int, []byte, error) {
	body, err := json.Marshal(ingestionPayload{Batch: batch})
	if err != nil {
		return 0, nil, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL+ingestionPath, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", t.authHeader)

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return resp.StatusCode, respBody, fmt.Errorf("langfuse API returned %d: %s", resp.StatusCode, string(respBody))
	}
	return resp.StatusCode, respBody, nil
}

func (t *LangfuseTracer) sendBatch(ctx context.Context, batch []ingestionEvent) error {
	status, respBody, err := t.post(ctx, batch)
	if err != nil {
		return err
	}

	var result ingestionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		logger.WithError(err).Debug("Could not parse Langfuse response body")
		return nil
	}

	for _, e := range result.Errors {
		logger.WithFields(log.Fields{
			"event":  e.ID,
			"status": e.Status,
		}).Warnf("Langfuse rejected event: %s", e.Message)
	}

	logger.WithFields(log.Fields{
		"events":   len(batch),
		"accepted": len(result.Successes),
		"rejected": len(result.Errors),
		"status":   status,
	}).Debug("Langfuse batch sent")

	return nil
}

// Stop shuts down the flush goroutine and flushes what remains. Calling it
// more than once is harmless.
func (t *LangfuseTracer) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
	return t.Flush(ctx)
}

// Ping sends a single trace to verify the credentials.
func (t *LangfuseTracer) Ping(ctx context.Context) error {
	event := ingestionEvent{
		ID:        uuid.New().String(),
		Type:      "trace-create",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Body: map[string]interface{}{
			"id":   "issue-assistant-ping-" + uuid.New().String(),
			"name": "issue-assistant-connectivity-test",
		},
	}

	_, respBody, err := t.post(ctx, []ingestionEvent{event})
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	var result ingestionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("ping: could not parse response: %w", err)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("ping event rejected: %s", result.Errors[0].Message)
	}
	return nil
}

type ingestionEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	Body      map[string]interface{} `json:"body"`
}

type ingestionPayload struct {
	Batch []ingestionEvent `json:"batch"`
}

type ingestionResponse struct {
	Successes []ingestionSuccess `json:"successes"`
	Errors    []ingestionError   `json:"errors"`
}

type ingestionSuccess struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
}

type ingestionError struct {
	ID      string `json:"id"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}
