package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kletsmajoor/klets/pkg/llms"
	"github.com/kletsmajoor/klets/pkg/retrieval"
)

const defaultSearchResults = 3

// SearchKnowledgeBase searches the document retrieval service and returns
// ranked snippets plus their structured source metadata.
type SearchKnowledgeBase struct {
	Service    retrieval.Service
	MaxResults int
}

func (t *SearchKnowledgeBase) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        "search_knowledge_base",
		Description: "Zoek in de kennisbank met overheidsdocumenten. Gebruik dit voor feitelijke vragen over regelingen, richtlijnen of procedures.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "De zoekopdracht",
				},
			},
			"required": []string{"query"},
		},
	}
}

func (t *SearchKnowledgeBase) Execute(ctx context.Context, args map[string]any, turn *Turn) (*Result, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	max := t.MaxResults
	if max <= 0 {
		max = defaultSearchResults
	}

	docs, err := t.Service.Search(ctx, query, max)
	if err != nil {
		return nil, fmt.Errorf("knowledge base search failed: %w", err)
	}
	slog.Debug("knowledge base search", "query", query, "results", len(docs))

	if len(docs) == 0 {
		return &Result{Content: "Geen relevante documenten gevonden."}, nil
	}

	var parts []string
	var sources []retrieval.SourceReference
	for _, doc := range docs {
		title := doc.Title
		if title == "" {
			title = "Zonder titel"
		}
		parts = append(parts, fmt.Sprintf("### %s (relevantie %.2f)\n%s", title, doc.Score, doc.Content))
		sources = append(sources, retrieval.SourceFromDocument(doc))
	}

	return &Result{
		Content: strings.Join(parts, "\n\n"),
		Sources: sources,
	}, nil
}
