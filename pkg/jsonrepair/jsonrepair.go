// Package jsonrepair extracts JSON from LLM output.
//
// Models wrap JSON in markdown fences, prepend prose, or get cut off by
// max_tokens. The extractor tries progressively more permissive strategies
// and, as a last resort, attempts to close a truncated object or array.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrUnparseable is wrapped by every extraction failure.
var ErrUnparseable = fmt.Errorf("content is not parseable as JSON")

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?\\s*```")

// Truncation suffixes, tried in order. Each candidate also gets the
// unmatched closing brackets appended afterwards.
var repairSuffixes = []string{"", `"`, `"}`, `"]`, `"]}`, `"}]}`, `"}}`, "null}", "null]"}

// Extract parses raw LLM text into a JSON value (object or array).
// Strategies, stopping at the first success:
//  1. parse as-is
//  2. strip a markdown code fence and parse the interior
//  3. outermost {...}
//  4. outermost [...]
//  5. repair a truncated object/array
func Extract(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrUnparseable)
	}

	content := strings.TrimSpace(raw)

	var v any
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		return v, nil
	}

	if m := codeBlockRe.FindStringSubmatch(content); m != nil {
		content = strings.TrimSpace(m[1])
		if err := json.Unmarshal([]byte(content), &v); err == nil {
			return v, nil
		}
	}

	if s := slice(content, '{', '}'); s != "" {
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v, nil
		}
	}

	if s := slice(content, '[', ']'); s != "" {
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v, nil
		}
	}

	if idx := strings.IndexAny(content, "{["); idx >= 0 {
		if repaired, ok := tryRepair(content[idx:]); ok {
			return repaired, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnparseable, head(raw, 100))
}

// Decode extracts JSON from raw and unmarshals it into v.
func Decode(raw string, v any) error {
	extracted, err := Extract(raw)
	if err != nil {
		return err
	}
	// Round-trip through encoding/json so v gets proper field mapping.
	b, err := json.Marshal(extracted)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return nil
}

// SafeExtract returns fallback instead of an error. For non-critical
// enrichment parses only.
func SafeExtract(raw string, fallback any) any {
	v, err := Extract(raw)
	if err != nil {
		slog.Warn("json extraction failed, using fallback", "error", err)
		return fallback
	}
	return v
}

// slice returns the substring between the first open and last close
// delimiter, or "" when no plausible span exists.
func slice(content string, open, close byte) string {
	start := strings.IndexByte(content, open)
	end := strings.LastIndexByte(content, close)
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return content[start : end+1]
}

// tryRepair attempts to close a truncated JSON fragment. Bracket counting
// ignores string context, same trade-off as counting quotes would be; the
// suffix list covers the common cut points inside string values.
func tryRepair(truncated string) (any, bool) {
	text := strings.TrimRight(truncated, " \t\r\n")

	for _, suffix := range repairSuffixes {
		for _, trimComma := range []bool{false, true} {
			candidate := text
			if trimComma {
				candidate = strings.TrimSuffix(candidate, ",")
			}
			candidate += suffix

			openBraces := strings.Count(candidate, "{") - strings.Count(candidate, "}")
			openBrackets := strings.Count(candidate, "[") - strings.Count(candidate, "]")
			if openBraces < 0 || openBrackets < 0 {
				continue
			}

			candidate += strings.Repeat("]", openBrackets) + strings.Repeat("}", openBraces)

			var v any
			if err := json.Unmarshal([]byte(candidate), &v); err == nil {
				return v, true
			}
		}
	}
	return nil, false
}

func head(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
