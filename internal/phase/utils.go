package phase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	stringLiteralPattern = regexp.MustCompile(`"([^"\\]*(\\.[^"\\]*)*)`)
	trailingCommaPattern = regexp.MustCompile(`,(\s*[}\]])`)
	bareKeyPattern       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// CleanJSONResponse removes markdown code blocks from AI responses and fixes common JSON issues.
// This handles responses that come wrapped in ```json ... ``` or just ``` ... ```
func CleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```json") && strings.HasSuffix(response, "```") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	} else if strings.HasPrefix(response, "```") && strings.HasSuffix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}

	return extractJSON(response)
}

// extractJSON attempts to find and extract valid JSON from a response that may contain other text
func extractJSON(response string) string {
	if isValidJSON(response) {
		return response
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return response
	}

	// Find the matching closing brace, ignoring braces inside strings
	depth := 0
	inString := false
	escaped := false
	end := 0
	for i := start; i < len(response) && end == 0; i++ {
		c := response[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
	}

	if end == 0 {
		return response
	}

	candidate := response[start:end]
	if isValidJSON(candidate) {
		return candidate
	}

	candidate = fixJSONString(candidate)
	if isValidJSON(candidate) {
		return candidate
	}

	return response
}

// fixJSONString attempts to fix common JSON string issues
func fixJSONString(jsonStr string) string {
	// Escape literal control characters inside string values
	jsonStr = stringLiteralPattern.ReplaceAllStringFunc(jsonStr, func(match string) string {
		if len(match) <= 1 {
			return match
		}

		content := match[1:]
		content = strings.ReplaceAll(content, "\n", "\\n")
		content = strings.ReplaceAll(content, "\r", "\\r")
		content = strings.ReplaceAll(content, "\t", "\\t")

		return `"` + content
	})

	jsonStr = trailingCommaPattern.ReplaceAllString(jsonStr, "$1")
	jsonStr = bareKeyPattern.ReplaceAllString(jsonStr, `$1"$2":`)

	return jsonStr
}

// isValidJSON checks if a string is valid JSON
func isValidJSON(str string) bool {
	var js interface{}
	return json.Unmarshal([]byte(str), &js) == nil
}

// DecodeStrict decodes exactly one JSON value into v, rejecting unknown
// fields and trailing content.
func DecodeStrict(data string, v any) error {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding JSON: %w", err)
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding JSON: unexpected content after value")
	}
	return nil
}

// DecodeLenient decodes JSON into v, ignoring unknown fields.
func DecodeLenient(data string, v any) error {
	if err := json.NewDecoder(bytes.NewReader([]byte(data))).Decode(v); err != nil {
		return fmt.Errorf("decoding JSON: %w", err)
	}
	return nil
}
