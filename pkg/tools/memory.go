package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kletsmajoor/klets/pkg/llms"
	"github.com/kletsmajoor/klets/pkg/retrieval"
)

// RetrievePastAnswer returns the full text of an earlier answer in this
// session by exchange id, with its sources listed for the reader and
// returned as structured references.
type RetrievePastAnswer struct{}

func (t *RetrievePastAnswer) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        "retrieve_past_answer",
		Description: "Haal de volledige tekst van een eerder antwoord uit deze sessie op. Gebruik dit als de gebruiker terugverwijst naar iets dat eerder besproken is.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"exchange_id": map[string]any{
					"type":        "string",
					"description": "Het id van de eerdere vraag-antwoorduitwisseling",
				},
			},
			"required": []string{"exchange_id"},
		},
	}
}

func (t *RetrievePastAnswer) Execute(ctx context.Context, args map[string]any, turn *Turn) (*Result, error) {
	exchangeID := strings.TrimSpace(stringArg(args, "exchange_id"))
	if exchangeID == "" {
		return nil, fmt.Errorf("exchange_id is required")
	}
	if turn == nil || turn.Memory == nil {
		return &Result{Content: fmt.Sprintf("Geen eerder antwoord gevonden voor '%s'.", exchangeID)}, nil
	}

	answer, ok := turn.Memory.FullAnswers[exchangeID]
	if !ok {
		return &Result{Content: fmt.Sprintf("Geen eerder antwoord gevonden voor '%s'.", exchangeID)}, nil
	}

	text := answer.Text
	if len(answer.Sources) > 0 {
		var lines []string
		for _, s := range answer.Sources {
			lines = append(lines, formatSourceLine(s))
		}
		text += "\n\n**Bronnen gebruikt voor dit antwoord:**\n" + strings.Join(lines, "\n")
	}

	return &Result{Content: text, Sources: answer.Sources}, nil
}

// LookupPastConversation searches this session's Q&A index by topic
// keyword (case-insensitive substring over summaries and topics) and
// surfaces the sources of matching exchanges.
type LookupPastConversation struct{}

func (t *LookupPastConversation) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        "lookup_past_conversation",
		Description: "Doorzoek de vraag-antwoordindex van deze sessie op onderwerp. Gebruik dit als de gebruiker vraagt naar iets dat eerder in het gesprek aan bod kwam, inclusief vragen over bronnen van eerdere antwoorden.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic": map[string]any{
					"type":        "string",
					"description": "Het trefwoord om op te zoeken",
				},
			},
			"required": []string{"topic"},
		},
	}
}

func (t *LookupPastConversation) Execute(ctx context.Context, args map[string]any, turn *Turn) (*Result, error) {
	topic := strings.TrimSpace(stringArg(args, "topic"))
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if turn == nil || turn.Memory == nil || len(turn.Memory.QAIndex) == 0 {
		return &Result{Content: fmt.Sprintf("Geen eerdere uitwisselingen gevonden over '%s'.", topic)}, nil
	}

	needle := strings.ToLower(topic)
	var lines []string
	var sources []retrieval.SourceReference

	for _, entry := range turn.Memory.QAIndex {
		haystack := strings.ToLower(entry.QuestionSummary + " " + entry.AnswerSummary + " " + strings.Join(entry.Topics, " "))
		if !strings.Contains(haystack, needle) {
			continue
		}

		line := fmt.Sprintf("- [%s] Q: %s | A: %s | onderwerpen: %s | bronnen: %d",
			entry.ExchangeID, entry.QuestionSummary, entry.AnswerSummary,
			strings.Join(entry.Topics, ", "), len(entry.SourceIDs))

		if answer, ok := turn.Memory.FullAnswers[entry.ExchangeID]; ok {
			for _, s := range answer.Sources {
				if s.Title != "" || s.URL != "" {
					line += "\n    " + formatSourceLine(s)
				}
				sources = append(sources, s)
			}
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return &Result{Content: fmt.Sprintf("Geen eerdere uitwisselingen gevonden over '%s'.", topic)}, nil
	}
	return &Result{Content: strings.Join(lines, "\n"), Sources: sources}, nil
}

func formatSourceLine(s retrieval.SourceReference) string {
	title := s.Title
	if title == "" {
		title = s.DocumentTitle
	}
	if title == "" {
		title = "?"
	}
	line := "- " + title
	if s.URL != "" {
		line += " | URL: " + s.URL
	}
	if s.DocumentID != "" {
		line += " | doc_id: " + s.DocumentID
	}
	return line
}
