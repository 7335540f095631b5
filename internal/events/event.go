// Package events records the outcome of each analyze request as a JSON
// line, giving operators a local history independent of tracing.
package events

import (
	"encoding/json"
	"time"
)

// Type identifies how an analyze request ended.
type Type string

const (
	// TypeSucceeded is a request answered with analysis JSON.
	TypeSucceeded Type = "succeeded"
	// TypeFailed is a request answered with an error detail.
	TypeFailed Type = "failed"
	// TypeRejected is a request refused before analysis (validation or rate limit).
	TypeRejected Type = "rejected"
)

// Event is one analyze request.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
	Type        Type      `json:"type"`
	RepoURL     string    `json:"repo_url,omitempty"`
	IssueNumber int       `json:"issue_number,omitempty"`
	Status      int       `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	// Result is the analysis returned to the client, kept only on success.
	Result json.RawMessage `json:"result,omitempty"`
}

// Recorder stores events. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(event Event) error
}

// ValidTypes returns all event types.
func ValidTypes() []Type {
	return []Type{TypeSucceeded, TypeFailed, TypeRejected}
}

// IsValidType checks if s names an event type.
func IsValidType(s string) bool {
	for _, t := range ValidTypes() {
		if string(t) == s {
			return true
		}
	}
	return false
}

// Discard is a Recorder that drops everything.
type Discard struct{}

func (Discard) Record(Event) error { return nil }
