package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSONObject pulls a JSON object out of free model text, tolerating
// markdown code fences and prose around it.
func extractJSONObject(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	obj := json.RawMessage(text[startIdx : endIdx+1])
	if !json.Valid(obj) {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	return obj, nil
}

// looksLikeReceipt reports whether obj carries a total, i.e. the model meant
// it as the receipt record rather than an explanation.
func looksLikeReceipt(obj json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj, &fields); err != nil {
		return false
	}
	for k := range fields {
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "total_amount", "total", "amount":
			return true
		}
	}
	return false
}

// structuredFromText returns the receipt object embedded in text, or nil when
// text is a plain answer.
func structuredFromText(text string) json.RawMessage {
	obj, err := extractJSONObject(text)
	if err != nil || !looksLikeReceipt(obj) {
		return nil
	}
	return obj
}
