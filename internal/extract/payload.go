package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractPayload isolates the JSON object from the model's raw text. The
// first fenced code block wins; without a fence the whole text is parsed.
func ExtractPayload(raw string) (map[string]any, error) {
	candidate := raw
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		candidate = m[1]
	}

	var value any
	if err := json.Unmarshal([]byte(strings.TrimSpace(candidate)), &value); err != nil {
		return nil, classified(KindInvalidJSON, "model response was not valid JSON", err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, classified(KindNonObjectPayload, "model response JSON must be an object", nil)
	}
	return obj, nil
}
