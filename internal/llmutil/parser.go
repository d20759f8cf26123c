// internal/llmutil/parser.go
package llmutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrMalformedResponse is wrapped by every parse failure so that callers can
// tell a bad answer apart from a transport problem.
var ErrMalformedResponse = errors.New("malformed LLM response")

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*({.*})\\s*\x60\x60\x60")
)

// ExtractJSONObject returns the JSON object embedded in a model response.
// Models asked for JSON still sometimes wrap it in a markdown fence or a
// sentence of prose; both are stripped. The result is not validated.
func ExtractJSONObject(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```") {
		if matches := jsonObjectRegex.FindStringSubmatch(response); len(matches) > 1 {
			return matches[1]
		}
		return response
	}

	if !strings.HasPrefix(response, "{") {
		first := strings.Index(response, "{")
		last := strings.LastIndex(response, "}")
		if first != -1 && last > first {
			return response[first : last+1]
		}
	}
	return response
}

// ParseStrictJSON parses an LLM response into T and rejects anything that
// deviates from the contract: a key listed in required that is missing or
// null, a key T does not declare, a value of the wrong type, or trailing data.
func ParseStrictJSON[T any](response string, required ...string) (*T, error) {
	raw := []byte(ExtractJSONObject(response))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrMalformedResponse, err)
	}
	for _, key := range required {
		v, ok := fields[key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, fmt.Errorf("%w: missing required key %q", ErrMalformedResponse, key)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var result T
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrMalformedResponse)
	}
	return &result, nil
}

// TruncateRunes shortens s to at most max runes and appends marker when it
// had to cut. It never splits a multi-byte character.
func TruncateRunes(s string, max int, marker string) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + marker
		}
		n++
	}
	return s
}
