package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedObject = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractDirective pulls the first action directive out of model text.
// A directive is a JSON object with an "action" key, either inside a fenced
// code block or as the whole reply. The returned text has the directive
// removed; action is nil when there is none.
func ExtractDirective(text string) (string, []byte) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && hasAction(trimmed) {
		return "", []byte(trimmed)
	}

	for _, loc := range fencedObject.FindAllStringSubmatchIndex(text, -1) {
		body := text[loc[2]:loc[3]]
		if !hasAction(body) {
			continue
		}
		cleaned := strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
		return cleaned, []byte(body)
	}

	return text, nil
}

func hasAction(body string) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return false
	}
	_, ok := probe["action"]
	return ok
}
