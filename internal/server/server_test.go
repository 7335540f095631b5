package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andywolf/issue-assistant/internal/analysis"
	"github.com/andywolf/issue-assistant/internal/events"
)

type fakeAnalyzer struct {
	result json.RawMessage
	err    error
	panics bool

	got   analysis.Request
	calls int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req analysis.Request) (json.RawMessage, error) {
	f.calls++
	f.got = req
	if f.panics {
		panic("boom")
	}
	return f.result, f.err
}

type memRecorder struct {
	events []events.Event
}

func (m *memRecorder) Record(e events.Event) error {
	m.events = append(m.events, e)
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func detailOf(t *testing.T, rec *httptest.ResponseRecorder) interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestAnalyzeIssue_Success(t *testing.T) {
	a := &fakeAnalyzer{result: json.RawMessage(`{"summary":"s","type":"bug"}`)}
	h := New(a, Options{}).Handler()

	rec := do(t, h, http.MethodPost, "/analyze_issue", `{"repo_url":"https://github.com/o/r","issue_number":42}`, map[string]string{
		RequestIDHeader: "req-123",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"summary":"s","type":"bug"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))

	assert.Equal(t, "https://github.com/o/r", a.got.RepoURL)
	assert.Equal(t, 42, a.got.IssueNumber)
	assert.Equal(t, "req-123", a.got.RequestID)
}

func TestAnalyzeIssue_AssignsRequestID(t *testing.T) {
	a := &fakeAnalyzer{result: json.RawMessage(`{}`)}
	h := New(a, Options{}).Handler()

	rec := do(t, h, http.MethodPost, "/analyze_issue", `{"repo_url":"o/r","issue_number":1}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
	assert.Equal(t, rec.Header().Get(RequestIDHeader), a.got.RequestID)
}

func TestAnalyzeIssue_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"empty body", ``, "body"},
		{"not json", `repo_url=x`, "body"},
		{"missing issue number", `{"repo_url":"https://github.com/o/r"}`, "issue_number"},
		{"missing repo url", `{"issue_number":1}`, "repo_url"},
		{"fractional issue number", `{"repo_url":"o/r","issue_number":1.5}`, "issue_number"},
		{"non-numeric issue number", `{"repo_url":"o/r","issue_number":"abc"}`, "issue_number"},
		{"zero issue number", `{"repo_url":"o/r","issue_number":0}`, "issue_number"},
		{"oversized repo url", `{"repo_url":"https://github.com/o/` + strings.Repeat("r", maxRepoURLLength) + `","issue_number":1}`, "repo_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAnalyzer{}
			rec := do(t, New(a, Options{}).Handler(), http.MethodPost, "/analyze_issue", tt.body, nil)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Zero(t, a.calls)

			detail, ok := detailOf(t, rec).([]interface{})
			require.True(t, ok, "detail should be a list: %s", rec.Body.String())
			require.NotEmpty(t, detail)
			loc := detail[0].(map[string]interface{})["loc"].([]interface{})
			assert.Equal(t, tt.field, loc[len(loc)-1])
		})
	}
}

func TestAnalyzeIssue_RepoURLLengthLimit(t *testing.T) {
	a := &fakeAnalyzer{result: json.RawMessage(`{}`)}
	h := New(a, Options{}).Handler()

	ok := "https://github.com/o/" + strings.Repeat("r", maxRepoURLLength-len("https://github.com/o/"))
	rec := do(t, h, http.MethodPost, "/analyze_issue", fmt.Sprintf(`{"repo_url":%q,"issue_number":1}`, ok), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/analyze_issue", fmt.Sprintf(`{"repo_url":%q,"issue_number":1}`, ok+"r"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "value_error.any_str.max_length")
	assert.Equal(t, 1, a.calls)
}

func TestAnalyzeIssue_AcceptsNumericForms(t *testing.T) {
	for _, raw := range []string{`7`, `7.0`, `"7"`} {
		a := &fakeAnalyzer{result: json.RawMessage(`{}`)}
		rec := do(t, New(a, Options{}).Handler(), http.MethodPost, "/analyze_issue", `{"repo_url":"o/r","issue_number":`+raw+`}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code, raw)
		assert.Equal(t, 7, a.got.IssueNumber, raw)
	}
}

func TestAnalyzeIssue_AnalysisErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"bad url", &analysis.Error{Status: 400, Detail: "Invalid GitHub repository URL"}, 400, "Invalid GitHub repository URL"},
		{"not found", &analysis.Error{Status: 404, Detail: "Issue not found"}, 404, "Issue not found"},
		{"llm", &analysis.Error{Status: 500, Detail: "LLM request failed: x"}, 500, "LLM request failed: x"},
		{"unexpected", errors.New("kaboom"), 500, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAnalyzer{err: tt.err}
			rec := do(t, New(a, Options{}).Handler(), http.MethodPost, "/analyze_issue", `{"repo_url":"o/r","issue_number":1}`, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantDetail, detailOf(t, rec))
		})
	}
}

func TestRecovery(t *testing.T) {
	a := &fakeAnalyzer{panics: true}
	rec := do(t, New(a, Options{}).Handler(), http.MethodPost, "/analyze_issue", `{"repo_url":"o/r","issue_number":1}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", detailOf(t, rec))
}

func TestCORSPreflight(t *testing.T) {
	h := New(&fakeAnalyzer{}, Options{}).Handler()
	rec := do(t, h, http.MethodOptions, "/analyze_issue", "", map[string]string{
		"Origin":                         "http://localhost:5500",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "content-type",
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.True(t, strings.EqualFold("content-type", rec.Header().Get("Access-Control-Allow-Headers")),
		"allow headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
	assert.Empty(t, rec.Body.String())
}

func TestCORS_ActualRequest(t *testing.T) {
	a := &fakeAnalyzer{result: json.RawMessage(`{"summary":"ok"}`)}
	h := New(a, Options{}).Handler()
	rec := do(t, h, http.MethodPost, "/analyze_issue", `{"repo_url":"o/r","issue_number":1}`, map[string]string{
		"Origin":       "http://localhost:5500",
		"Content-Type": "application/json",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 1, a.calls)
}

func TestRateLimit(t *testing.T) {
	a := &fakeAnalyzer{result: json.RawMessage(`{}`)}
	// httptest requests come from 192.0.2.1.
	h := New(a, Options{RateLimit: 2, TrustedProxies: []string{"192.0.2.0/24"}}).Handler()
	body := `{"repo_url":"o/r","issue_number":1}`
	headers := map[string]string{"X-Forwarded-For": "203.0.113.9"}

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/analyze_issue", body, headers).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/analyze_issue", body, headers).Code)

	rec := do(t, h, http.MethodPost, "/analyze_issue", body, headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "Too many requests", detailOf(t, rec))
	assert.Equal(t, 2, a.calls)

	other := map[string]string{"X-Forwarded-For": "198.51.100.1"}
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/analyze_issue", body, other).Code)
}

func TestRateLimit_UntrustedForwardingHeadersIgnored(t *testing.T) {
	a := &fakeAnalyzer{result: json.RawMessage(`{}`)}
	h := New(a, Options{RateLimit: 1}).Handler()
	body := `{"repo_url":"o/r","issue_number":1}`

	codes := map[int]int{}
	for i := 0; i < 50; i++ {
		headers := map[string]string{"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i)}
		codes[do(t, h, http.MethodPost, "/analyze_issue", body, headers).Code]++
	}

	assert.Equal(t, 1, codes[http.StatusOK])
	assert.Equal(t, 49, codes[http.StatusTooManyRequests])
	assert.Equal(t, 1, a.calls)
}

func TestHealthz(t *testing.T) {
	rec := do(t, New(&fakeAnalyzer{}, Options{Version: "1.2.3"}).Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"1.2.3"}`, rec.Body.String())
}

func TestNotFoundAndMethod(t *testing.T) {
	h := New(&fakeAnalyzer{}, Options{}).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/nope", "", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/analyze_issue", "", nil).Code)
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(&fakeAnalyzer{}, Options{ShutdownTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestAnalyzeIssue_RecordsEvents(t *testing.T) {
	rec := &memRecorder{}
	a := &fakeAnalyzer{result: json.RawMessage(`{"summary":"s"}`)}
	h := New(a, Options{Events: rec, RateLimit: 2}).Handler()
	headers := map[string]string{"X-Forwarded-For": "203.0.113.7", RequestIDHeader: "req-42"}

	do(t, h, http.MethodPost, "/analyze_issue", `{"repo_url":"o/r","issue_number":3}`, headers)
	do(t, h, http.MethodPost, "/analyze_issue", `{"repo_url":"o/r"}`, headers)
	do(t, h, http.MethodPost, "/analyze_issue", `{"repo_url":"o/r","issue_number":3}`, headers)

	require.Len(t, rec.events, 3)

	ok := rec.events[0]
	assert.Equal(t, events.TypeSucceeded, ok.Type)
	assert.Equal(t, "req-42", ok.RequestID)
	assert.Equal(t, "o/r", ok.RepoURL)
	assert.Equal(t, 3, ok.IssueNumber)
	assert.Equal(t, http.StatusOK, ok.Status)
	assert.JSONEq(t, `{"summary":"s"}`, string(ok.Result))

	invalid := rec.events[1]
	assert.Equal(t, events.TypeRejected, invalid.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, invalid.Status)
	assert.Equal(t, "field required", invalid.Detail)

	limited := rec.events[2]
	assert.Equal(t, events.TypeRejected, limited.Type)
	assert.Equal(t, http.StatusTooManyRequests, limited.Status)
}

func TestAnalyzeIssue_RecordsFailures(t *testing.T) {
	rec := &memRecorder{}
	a := &fakeAnalyzer{err: &analysis.Error{Status: 404, Detail: "Issue not found"}}
	do(t, New(a, Options{Events: rec}).Handler(), http.MethodPost, "/analyze_issue", `{"repo_url":"o/r","issue_number":9}`, nil)

	require.Len(t, rec.events, 1)
	assert.Equal(t, events.TypeFailed, rec.events[0].Type)
	assert.Equal(t, 404, rec.events[0].Status)
	assert.Equal(t, "Issue not found", rec.events[0].Detail)
	assert.Empty(t, rec.events[0].Result)
}
