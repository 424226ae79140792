package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kletsmajoor/klets/pkg/retrieval"
	"github.com/kletsmajoor/klets/pkg/session"
)

func testTurn() *Turn {
	mem := session.NewMemory("sess-1")
	mem.QAIndex = []session.QAIndexEntry{
		{
			ExchangeID:      "ex-1",
			QuestionSummary: "Vraag over zorgtoeslag aanvragen",
			AnswerSummary:   "Uitgelegd hoe zorgtoeslag werkt",
			Topics:          []string{"zorgtoeslag", "toeslagen"},
			SourceIDs:       []string{"doc-9"},
		},
		{
			ExchangeID:      "ex-2",
			QuestionSummary: "Vraag over een DPIA",
			AnswerSummary:   "DPIA uitgelegd",
			Topics:          []string{"privacy"},
		},
	}
	mem.FullAnswers = map[string]session.FullAnswer{
		"ex-1": {
			Text: "U vraagt zorgtoeslag aan via Mijn Toeslagen.",
			Sources: []retrieval.SourceReference{
				{Title: "Zorgtoeslag", DocumentID: "doc-9", URL: "https://example.org/zorgtoeslag"},
			},
		},
	}
	return &Turn{SessionID: "sess-1", Memory: mem}
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&RetrievePastAnswer{}))
	require.NoError(t, reg.Register(&LookupPastConversation{}))

	err := reg.Register(&RetrievePastAnswer{})
	assert.Error(t, err, "duplicate registration must fail")

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "retrieve_past_answer", defs[0].Name)
	assert.Equal(t, "lookup_past_conversation", defs[1].Name)

	_, err = reg.Execute(context.Background(), "no_such_tool", nil, testTurn())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestSearchKnowledgeBase(t *testing.T) {
	fake := &retrieval.FakeService{
		Docs: []retrieval.Document{
			{Title: "Zorgtoeslagwet", ID: "doc-1", Score: 0.91, Content: "De zorgtoeslag is een bijdrage in de kosten van de zorgverzekering."},
			{Title: "Toeslagen aanvragen", ID: "doc-2", Score: 0.82, Content: "Aanvragen verloopt via Mijn Toeslagen."},
		},
	}
	tool := &SearchKnowledgeBase{Service: fake}

	result, err := tool.Execute(context.Background(), map[string]any{"query": "zorgtoeslag"}, testTurn())
	require.NoError(t, err)
	assert.Contains(t, result.Content, "### Zorgtoeslagwet (relevantie 0.91)")
	assert.Contains(t, result.Content, "Mijn Toeslagen")
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "doc-1", result.Sources[0].DocumentID)

	_, err = tool.Execute(context.Background(), map[string]any{}, testTurn())
	assert.Error(t, err, "missing query must fail")
}

func TestSearchKnowledgeBaseNoResults(t *testing.T) {
	tool := &SearchKnowledgeBase{Service: &retrieval.FakeService{}}
	result, err := tool.Execute(context.Background(), map[string]any{"query": "onbekend"}, testTurn())
	require.NoError(t, err)
	assert.Equal(t, "Geen relevante documenten gevonden.", result.Content)
	assert.Empty(t, result.Sources)
}

func TestRetrievePastAnswer(t *testing.T) {
	tool := &RetrievePastAnswer{}

	result, err := tool.Execute(context.Background(), map[string]any{"exchange_id": "ex-1"}, testTurn())
	require.NoError(t, err)
	assert.Contains(t, result.Content, "Mijn Toeslagen")
	assert.Contains(t, result.Content, "Bronnen gebruikt voor dit antwoord")
	assert.Contains(t, result.Content, "https://example.org/zorgtoeslag")
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "doc-9", result.Sources[0].DocumentID)

	result, err = tool.Execute(context.Background(), map[string]any{"exchange_id": "ex-404"}, testTurn())
	require.NoError(t, err)
	assert.Contains(t, result.Content, "Geen eerder antwoord gevonden")
	assert.Empty(t, result.Sources)
}

func TestLookupPastConversation(t *testing.T) {
	tool := &LookupPastConversation{}

	// Matches on topic keyword, case-insensitive.
	result, err := tool.Execute(context.Background(), map[string]any{"topic": "ZORGTOESLAG"}, testTurn())
	require.NoError(t, err)
	assert.Contains(t, result.Content, "[ex-1]")
	assert.NotContains(t, result.Content, "[ex-2]")
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "doc-9", result.Sources[0].DocumentID)

	// Matches on answer summary text as well.
	result, err = tool.Execute(context.Background(), map[string]any{"topic": "dpia"}, testTurn())
	require.NoError(t, err)
	assert.Contains(t, result.Content, "[ex-2]")

	result, err = tool.Execute(context.Background(), map[string]any{"topic": "parkeervergunning"}, testTurn())
	require.NoError(t, err)
	assert.Contains(t, result.Content, "Geen eerdere uitwisselingen gevonden")
}
