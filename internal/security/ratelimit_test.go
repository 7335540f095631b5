package security

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "third request in the window")
	assert.True(t, rl.Allow("10.0.0.2"), "other clients have their own bucket")

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("10.0.0.1"), "window reset")
}

func TestRateLimiter_EvictsStaleBuckets(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }
	rl.maxBuckets = 2

	rl.Allow("a")
	rl.Allow("b")

	now = now.Add(3 * time.Minute)
	rl.Allow("c")

	assert.Len(t, rl.buckets, 1)
	assert.Contains(t, rl.buckets, "c")
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 30*time.Second)
	handler := rl.Middleware(ClientIP, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/analyze_issue", nil)
	req.RemoteAddr = "192.0.2.7:51234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "30", rr.Header().Get("Retry-After"))
}

func TestRateLimiter_RefusesNewKeysWhenFull(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, time.Minute)
	rl.now = func() time.Time { return now }
	rl.maxBuckets = 3

	for _, key := range []string{"a", "b", "c"} {
		assert.True(t, rl.Allow(key))
	}
	assert.False(t, rl.Allow("d"), "table full and nothing stale")
	assert.True(t, rl.Allow("a"), "known keys keep their budget")
	assert.Len(t, rl.buckets, 3)

	now = now.Add(3 * time.Minute)
	assert.True(t, rl.Allow("d"), "stale buckets free room")
}

func TestRateLimiter_SpoofedForwardingHeadersShareABucket(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.maxBuckets = 100
	handler := rl.Middleware(ClientIP, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	allowed := 0
	for i := 0; i < 500; i++ {
		req := httptest.NewRequest(http.MethodPost, "/analyze_issue", nil)
		req.RemoteAddr = "192.0.2.7:51234"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.%d.%d.1", i/256, i%256))
		req.Header.Set("X-Real-IP", fmt.Sprintf("172.16.%d.%d", i/256, i%256))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusNoContent {
			allowed++
		}
	}

	assert.Equal(t, 1, allowed)
	assert.Len(t, rl.buckets, 1)
}

func TestClientIP_IgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	req.Header.Set("X-Real-IP", "198.51.100.9")

	assert.Equal(t, "192.0.2.7", ClientIP(req))
}

func TestClientIPFunc(t *testing.T) {
	keyFunc, err := ClientIPFunc([]string{"10.0.0.0/8", "2001:db8::1"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "trusted proxy forwards client",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			remoteAddr: "10.0.0.1:443",
			want:       "203.0.113.5",
		},
		{
			name:       "client-supplied hops left of the proxy are skipped",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.5, 10.0.0.2"},
			remoteAddr: "10.0.0.1:443",
			want:       "203.0.113.5",
		},
		{
			name:       "real ip from trusted proxy",
			headers:    map[string]string{"X-Real-IP": "198.51.100.9"},
			remoteAddr: "10.0.0.1:443",
			want:       "198.51.100.9",
		},
		{
			name:       "untrusted peer headers ignored",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			remoteAddr: "192.0.2.7:51234",
			want:       "192.0.2.7",
		},
		{
			name:       "trusted ipv6 peer",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.8"},
			remoteAddr: "[2001:db8::1]:8080",
			want:       "203.0.113.8",
		},
		{
			name:       "trusted peer without headers",
			remoteAddr: "10.0.0.1:443",
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, keyFunc(req))
		})
	}
}

func TestClientIPFunc_Invalid(t *testing.T) {
	_, err := ClientIPFunc([]string{"not-an-ip"})
	assert.Error(t, err)

	_, err = ClientIPFunc([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}
