package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// cleanModelOutput drops reasoning blocks and markdown code fences.
func cleanModelOutput(text string) string {
	cleaned := strings.TrimSpace(text)

	if strings.Contains(cleaned, "<think>") {
		cleaned = thinkBlock.ReplaceAllString(cleaned, "")
		// An unterminated block is everything up to the answer.
		if i := strings.Index(cleaned, "<think>"); i >= 0 {
			if j := strings.Index(cleaned[i:], "{"); j >= 0 {
				cleaned = cleaned[:i] + cleaned[i+j:]
			}
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimLeft(cleaned, "`")
		if len(cleaned) >= 4 && strings.EqualFold(cleaned[:4], "json") {
			cleaned = strings.TrimLeft(cleaned[4:], " \t\r\n")
		}
	}
	if strings.HasSuffix(cleaned, "```") {
		cleaned = strings.TrimRight(strings.TrimRight(cleaned, "`"), " \t\r\n")
	}

	return cleaned
}

// extractJSON returns the JSON object in the model output, compacted.
func extractJSON(text string) (json.RawMessage, *Error) {
	cleaned := cleanModelOutput(text)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, newError(500, "Could not locate JSON in model output:\n"+cleaned, nil)
	}

	candidate := cleaned[start : end+1]
	var buf bytes.Buffer
	err := compactObject(&buf, candidate)
	if err == nil {
		return buf.Bytes(), nil
	}

	// Trailing chatter with its own braces defeats first-to-last slicing;
	// the first balanced object is usually the answer.
	if balanced, berr := extractBalancedJSON(cleaned[start:]); berr == nil && balanced != candidate {
		buf.Reset()
		if compactObject(&buf, balanced) == nil {
			return buf.Bytes(), nil
		}
	}

	return nil, newError(500, fmt.Sprintf("Failed to parse JSON. Error: %v\nRaw JSON string:\n%s", err, candidate), err)
}

func compactObject(buf *bytes.Buffer, s string) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return err
	}
	return json.Compact(buf, []byte(s))
}

// extractBalancedJSON extracts a balanced JSON object from the start of s.
func extractBalancedJSON(s string) (string, error) {
	if len(s) == 0 || s[0] != '{' {
		return "", fmt.Errorf("string does not start with '{'")
	}

	depth := 0
	inString := false
	escaped := false

	for i, c := range s {
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unbalanced JSON object")
}
