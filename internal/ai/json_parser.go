package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Pre-compiled patterns for cleaning up model output. Models frequently
// wrap JSON in code fences, add trailing commas, or surround the object
// with prose despite instructions not to.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\n?```")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	objectRegex        = regexp.MustCompile(`(?s)\{.*\}`)
)

// ParseResult represents the result of a JSON parse operation.
// The explicit Success flag forces every call site to handle the
// unparseable path instead of propagating a panic or a zero value.
type ParseResult[T any] struct {
	Success      bool
	Data         T
	Error        string
	OriginalText string
}

// Parse attempts to parse model output as JSON with fallback strategies:
//
//  1. Direct JSON parse
//  2. Strip code fences and retry
//  3. Fix trailing commas and retry
//  4. Extract the outermost JSON object from mixed content and retry
func Parse[T any](text string) ParseResult[T] {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ParseResult[T]{Error: "empty input", OriginalText: text}
	}

	candidates := []string{trimmed}

	if m := codeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}

	if extracted := objectRegex.FindString(trimmed); extracted != "" && extracted != trimmed {
		candidates = append(candidates, extracted)
	}

	var lastErr error
	for _, candidate := range candidates {
		for _, attempt := range []string{candidate, trailingCommaRegex.ReplaceAllString(candidate, "$1")} {
			var data T
			if err := json.Unmarshal([]byte(attempt), &data); err == nil {
				return ParseResult[T]{Success: true, Data: data, OriginalText: text}
			} else {
				lastErr = err
			}
		}
	}

	return ParseResult[T]{
		Error:        fmt.Sprintf("all parse strategies failed: %v", lastErr),
		OriginalText: text,
	}
}

// truncateString shortens s to max characters for log/error output.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
