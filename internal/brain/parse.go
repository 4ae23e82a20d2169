// v0
// internal/brain/parse.go
package brain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ParseDecision turns a reasoning endpoint body into an Outcome.
//
// The body must be a JSON object. When it carries a "response" field that
// field must be a string, parsed as the decision object; otherwise the body
// itself is the decision object. A null "response" counts as absent.
func ParseDecision(body []byte) Outcome {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return failure("empty response body")
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return failure("response is not a JSON object: %v", err)
	}
	if raw, ok := envelope["response"]; ok && !isNull(raw) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return failure("response must be a string, got %s", jsonKind(raw))
		}
		return parseInner(inner)
	}
	return decodeDecision(envelope)
}

func parseInner(text string) Outcome {
	text = strings.TrimSpace(text)
	if text == "" {
		return failure("nested response is empty")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return failure("nested response is not a JSON object: %v", err)
	}
	return decodeDecision(obj)
}

func decodeDecision(obj map[string]json.RawMessage) Outcome {
	if len(obj) == 0 {
		return noDecision("empty decision")
	}
	action, present, err := optionalString(obj, "action")
	if err != nil {
		return failure("action: %v", err)
	}
	if !present || strings.TrimSpace(action) == "" {
		return noDecision("no action requested")
	}
	location, _, err := optionalString(obj, "zone")
	if err != nil {
		return failure("zone: %v", err)
	}
	if location == "" {
		location, _, err = optionalString(obj, "area")
		if err != nil {
			return failure("area: %v", err)
		}
	}
	var params map[string]any
	if raw, ok := obj["parameters"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &params); err != nil {
			return failure("parameters must be an object: %v", err)
		}
	}
	if params == nil {
		params = map[string]any{}
	}
	return decided(Decision{
		Location:   strings.TrimSpace(location),
		Capability: strings.TrimSpace(action),
		Parameters: params,
	})
}

type fieldTypeError struct{ got string }

func (e fieldTypeError) Error() string { return "expected string, got " + e.got }

// optionalString reads key as a string. null counts as absent.
func optionalString(obj map[string]json.RawMessage, key string) (string, bool, error) {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", true, fieldTypeError{got: jsonKind(raw)}
	}
	return s, true, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func jsonKind(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "nothing"
	}
	switch raw[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
