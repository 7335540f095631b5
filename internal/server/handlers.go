package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/andywolf/issue-assistant/internal/analysis"
	"github.com/andywolf/issue-assistant/internal/events"
)

const maxRequestBody = 1 << 20

// maxRepoURLLength bounds repo_url so one request cannot bloat the history file.
const maxRepoURLLength = 2048

// validationError mirrors the shape FastAPI clients already understand.
type validationError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type analyzeRequest struct {
	RepoURL     *string          `json:"repo_url"`
	IssueNumber *json.RawMessage `json:"issue_number"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.opts.Version,
	})
}

func (s *Server) handleAnalyzeIssue(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, verrs := decodeAnalyzeRequest(r.Body)
	req.RequestID = RequestIDFromContext(r.Context())
	if len(verrs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"detail": verrs})
		s.record(start, events.TypeRejected, req, http.StatusUnprocessableEntity, verrs[0].Msg, nil)
		return
	}

	result, err := s.analyzer.Analyze(r.Context(), req)
	if err != nil {
		status, detail := errorResponse(err)
		writeDetail(w, status, detail)
		s.record(start, events.TypeFailed, req, status, detail, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
	s.record(start, events.TypeSucceeded, req, http.StatusOK, "", result)
}

// record appends the request outcome to the history log.
func (s *Server) record(start time.Time, typ events.Type, req analysis.Request, status int, detail string, result json.RawMessage) {
	err := s.opts.Events.Record(events.Event{
		Timestamp:   start.UTC(),
		RequestID:   req.RequestID,
		Type:        typ,
		RepoURL:     req.RepoURL,
		IssueNumber: req.IssueNumber,
		Status:      status,
		Detail:      detail,
		DurationMs:  time.Since(start).Milliseconds(),
		Result:      result,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to record analyze event")
	}
}

func decodeAnalyzeRequest(body io.Reader) (analysis.Request, []validationError) {
	raw, err := io.ReadAll(io.LimitReader(body, maxRequestBody))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return analysis.Request{}, []validationError{{Loc: []string{"body"}, Msg: "field required", Type: "value_error.missing"}}
	}

	var in analyzeRequest
	if err := json.Unmarshal(raw, &in); err != nil {
		return analysis.Request{}, []validationError{{Loc: []string{"body"}, Msg: "invalid JSON object", Type: "value_error.jsondecode"}}
	}

	var verrs []validationError
	var req analysis.Request

	if in.RepoURL == nil {
		verrs = append(verrs, validationError{Loc: []string{"body", "repo_url"}, Msg: "field required", Type: "value_error.missing"})
	} else if len(*in.RepoURL) > maxRepoURLLength {
		verrs = append(verrs, validationError{Loc: []string{"body", "repo_url"}, Msg: fmt.Sprintf("ensure this value has at most %d characters", maxRepoURLLength), Type: "value_error.any_str.max_length"})
	} else {
		req.RepoURL = *in.RepoURL
	}

	if in.IssueNumber == nil {
		verrs = append(verrs, validationError{Loc: []string{"body", "issue_number"}, Msg: "field required", Type: "value_error.missing"})
	} else if n, ok := parseIssueNumber(*in.IssueNumber); !ok {
		verrs = append(verrs, validationError{Loc: []string{"body", "issue_number"}, Msg: "value is not a valid integer", Type: "type_error.integer"})
	} else if n < 1 {
		verrs = append(verrs, validationError{Loc: []string{"body", "issue_number"}, Msg: "ensure this value is greater than 0", Type: "value_error.number.not_gt"})
	} else {
		req.IssueNumber = n
	}

	return req, verrs
}

// parseIssueNumber accepts JSON integers, integral floats and numeric
// strings. Fractions and anything else are rejected.
func parseIssueNumber(raw json.RawMessage) (int, bool) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		raw = json.RawMessage(s)
	}

	if n, err := strconv.Atoi(string(bytes.TrimSpace(raw))); err == nil {
		return n, true
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// errorResponse maps an analysis error to its status and detail. Anything
// that is not an *analysis.Error is a 500 with a generic detail.
func errorResponse(err error) (int, string) {
	var ae *analysis.Error
	if errors.As(err, &ae) {
		return ae.Status, ae.Detail
	}

	logger.WithError(err).Error("Unexpected analysis error")
	return http.StatusInternalServerError, "Internal Server Error"
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.WithError(err).Warn("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(b); err != nil {
		logger.WithError(err).Debug("Failed to write JSON response")
	}
}
