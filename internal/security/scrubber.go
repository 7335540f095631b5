// Package security keeps credentials out of logs and API responses and
// throttles the analyze API.
package security

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

const redacted = "***REDACTED***"

// Token shapes issued by the services this tool talks to. Each pattern keeps
// its first capture group (the recognisable prefix) and redacts the rest.
var defaultPatterns = []*regexp.Regexp{
	// GitHub: classic, OAuth, user-to-server, installation, refresh, fine-grained
	regexp.MustCompile(`\b(gh[pousr]_)[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`\b(github_pat_)[A-Za-z0-9_]{20,}`),

	// Hugging Face and OpenAI-style API keys
	regexp.MustCompile(`\b(hf_)[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`\b(sk-)[A-Za-z0-9_\-]{20,}`),

	// Authorization header values
	regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9_\-./+=]{16,}`),
	regexp.MustCompile(`(?i)\b(basic\s+)[A-Za-z0-9+/=]{16,}`),

	// JWTs, e.g. GitHub App assertions
	regexp.MustCompile(`\b(eyJ)[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),

	// key=value and key: value assignments
	regexp.MustCompile(`(?i)\b((?:api[_-]?key|access[_-]?token|auth[_-]?token|secret[_-]?key|private[_-]?key|password)["']?\s*[:=]\s*["']?)[^\s"',}]{8,}`),

	// PEM private keys
	regexp.MustCompile(`(-----BEGIN (?:RSA |EC )?PRIVATE KEY-----)[\s\S]+?-----END (?:RSA |EC )?PRIVATE KEY-----`),
}

// Scrubber removes credentials from free text. Besides the built-in token
// shapes it redacts any literal value registered with AddSecret, which is
// how configured API keys that match no known shape are covered.
type Scrubber struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	secrets  []string
}

// NewScrubber creates a Scrubber with the default token patterns.
func NewScrubber() *Scrubber {
	return &Scrubber{patterns: defaultPatterns}
}

// AddSecret registers a literal value to redact. Values shorter than 8
// characters are ignored; they would redact ordinary words.
func (s *Scrubber) AddSecret(values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range values {
		if len(v) < 8 {
			continue
		}
		s.secrets = append(s.secrets, v)
	}
	// Longest first so a secret containing another is replaced whole.
	sort.Slice(s.secrets, func(i, j int) bool { return len(s.secrets[i]) > len(s.secrets[j]) })
}

// Scrub returns input with every recognised credential replaced.
func (s *Scrubber) Scrub(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := input
	for _, secret := range s.secrets {
		out = strings.ReplaceAll(out, secret, redacted)
	}
	for _, pattern := range s.patterns {
		out = pattern.ReplaceAllString(out, "${1}"+redacted)
	}
	return out
}

// ContainsSensitive reports whether Scrub would change input.
func (s *Scrubber) ContainsSensitive(input string) bool {
	return s.Scrub(input) != input
}
