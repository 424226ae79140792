package llms

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON unmarshals a model reply that is expected to be a bare JSON
// object. Models frequently wrap JSON in markdown fences; those are stripped
// before decoding.
func DecodeJSON(raw string, v any) error {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		}
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	if cleaned == "" {
		return fmt.Errorf("empty JSON payload")
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}
