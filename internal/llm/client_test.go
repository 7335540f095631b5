package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete_Success(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer hf_secret", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), "issue-assistant")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"  {\"a\":1}\n"}}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/v1/", APIKey: "hf_secret"})
	resp, err := client.Complete(context.Background(), ChatRequest{
		Model:       DefaultModel,
		Messages:    []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}},
		Temperature: 0,
		MaxTokens:   DefaultMaxTokens,
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, got["model"])
	assert.EqualValues(t, 500, got["max_tokens"])
	assert.Len(t, got["messages"], 2)
	// A zero temperature must still reach the provider.
	require.Contains(t, got, "temperature")
	assert.InDelta(t, 0, got["temperature"], 1e-6)

	content, err := resp.Content()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, content)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, "c1", resp.ID)
}

func TestComplete_APIErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"openai envelope", http.StatusUnauthorized, `{"error":{"message":"Invalid credentials","type":"invalid_request_error"}}`, "Invalid credentials"},
		{"string error", http.StatusBadRequest, `{"error":"Model not supported"}`, "Bad Request"},
		{"plain body", http.StatusServiceUnavailable, "overloaded", "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(Config{BaseURL: server.URL}).Complete(context.Background(), ChatRequest{Model: "m"})
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestComplete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	resp, err := NewClient(Config{BaseURL: server.URL}).Complete(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)

	_, err = resp.Content()
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestComplete_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(Config{BaseURL: url}).Complete(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Contains(t, err.Error(), "send request")
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, NewClient(Config{}).baseURL)
}
