package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedObject = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON locates the single JSON object in model output. It tries, in
// order: the whole trimmed text, the first fenced code block, and the span
// from the first '{' to the last '}'.
func ExtractJSON(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty output", ErrNoJSON)
	}

	if strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") {
		if obj, ok := asObject(raw); ok {
			return obj, nil
		}
	}

	if m := fencedObject.FindStringSubmatch(raw); m != nil {
		if obj, ok := asObject(strings.TrimSpace(m[1])); ok {
			return obj, nil
		}
	}

	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first == -1 || last == -1 || last <= first {
		return nil, fmt.Errorf("%w: %q", ErrNoJSON, preview(raw, 120))
	}
	candidate := strings.TrimSpace(raw[first : last+1])
	if i := strings.LastIndex(candidate, "```"); i != -1 {
		candidate = strings.TrimSpace(candidate[:i])
	}
	if obj, ok := asObject(candidate); ok {
		return obj, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidJSON, preview(candidate, 120))
}

// ParseJSON is ExtractJSON decoded into a generic map.
func ParseJSON(raw string) (map[string]any, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(obj, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return out, nil
}

// DecodeJSON extracts the object from raw and unmarshals it into T.
func DecodeJSON[T any](raw string) (T, error) {
	var out T
	obj, err := ExtractJSON(raw)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(obj, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return out, nil
}

func asObject(s string) (json.RawMessage, bool) {
	b := []byte(s)
	if !json.Valid(b) || !bytes.HasPrefix(bytes.TrimSpace(b), []byte("{")) {
		return nil, false
	}
	return json.RawMessage(b), true
}
