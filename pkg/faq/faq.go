// Package faq implements the semantic match engine over a curated FAQ set.
//
// Question variants are embedded, L2-normalized and indexed for
// inner-product nearest-neighbor search (cosine similarity). Matching uses
// two confidence tiers: exact matches short-circuit the reasoning loop,
// suggest matches ride along as hints.
package faq

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kletsmajoor/klets/pkg/retrieval"
)

// Entry is one FAQ: a canonical answer reachable through several question
// variants.
type Entry struct {
	ID        string                      `json:"id"`
	Category  string                      `json:"category"`
	Answer    string                      `json:"answer"`
	Questions []string                    `json:"questions"`
	Metadata  map[string]string           `json:"metadata,omitempty"`
	Sources   []retrieval.SourceReference `json:"sources,omitempty"`
}

type entryFile struct {
	FAQs []Entry `json:"faqs"`
}

// LoadFile reads FAQ entries from a JSON file of the form {"faqs": [...]}.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read FAQ file: %w", err)
	}

	var parsed entryFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode FAQ file: %w", err)
	}

	for i, entry := range parsed.FAQs {
		if entry.ID == "" {
			parsed.FAQs[i].ID = fmt.Sprintf("faq-%d", i)
		}
	}
	return parsed.FAQs, nil
}
