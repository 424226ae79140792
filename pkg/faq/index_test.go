package faq

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kletsmajoor/klets/pkg/embedders"
	"github.com/kletsmajoor/klets/pkg/retrieval"
)

func writeFAQFile(t *testing.T, entries []Entry) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "faq.json")
	data, err := json.Marshal(entryFile{FAQs: entries})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testEntries() []Entry {
	return []Entry{
		{
			ID:       "FAQ-001",
			Category: "privacy",
			Answer:   "Een DPIA is een gegevensbeschermingseffectbeoordeling.",
			Questions: []string{
				"Wat is een DPIA?",
				"Wat betekent DPIA?",
				"Wanneer is een DPIA verplicht?",
			},
			Sources: []retrieval.SourceReference{{DocumentID: "avg-35", Title: "AVG artikel 35"}},
		},
		{
			ID:       "FAQ-002",
			Category: "toeslagen",
			Answer:   "Zorgtoeslag vraagt u aan via Mijn Toeslagen.",
			Questions: []string{
				"Hoe vraag ik zorgtoeslag aan?",
				"Waar kan ik zorgtoeslag aanvragen?",
			},
		},
	}
}

func TestIndexExactMatch(t *testing.T) {
	path := writeFAQFile(t, testEntries())
	idx := NewIndex(path, embedders.NewFakeEmbedder(8))
	require.NoError(t, idx.Load(context.Background()))
	require.Equal(t, 5, idx.Size())

	// Identical wording embeds to the identical unit vector.
	match, decision, err := idx.BestMatch(context.Background(), "Wat is een DPIA?")
	require.NoError(t, err)
	require.Equal(t, DecisionExact, decision)
	require.NotNil(t, match)
	assert.Equal(t, "FAQ-001", match.FAQID)
	assert.Equal(t, "Wat is een DPIA?", match.MatchedQuestion)
	assert.InDelta(t, 1.0, float64(match.Score), 1e-4)
	assert.Len(t, match.Sources, 1)
	assert.NotContains(t, match.RelatedQuestions, "Wat is een DPIA?")
	assert.Contains(t, match.RelatedQuestions, "Wat betekent DPIA?")
}

func TestIndexNoMatchBelowSuggest(t *testing.T) {
	embedder := embedders.NewFakeEmbedder(4)
	embedder.Overrides["Wat is een DPIA?"] = []float32{1, 0, 0, 0}
	embedder.Overrides["Wat betekent DPIA?"] = []float32{0, 1, 0, 0}
	embedder.Overrides["Wanneer is een DPIA verplicht?"] = []float32{0, 0, 1, 0}
	embedder.Overrides["Hoe vraag ik zorgtoeslag aan?"] = []float32{0.5, 0.5, 0.5, 0.5}
	embedder.Overrides["Waar kan ik zorgtoeslag aanvragen?"] = []float32{0.5, 0.5, -0.5, -0.5}
	embedder.Overrides["vraag over treinen"] = []float32{0, 0, 0, 1}

	path := writeFAQFile(t, testEntries())
	idx := NewIndex(path, embedder)
	require.NoError(t, idx.Load(context.Background()))

	// Best similarity is 0.5, below the suggest tier.
	match, decision, err := idx.BestMatch(context.Background(), "vraag over treinen")
	require.NoError(t, err)
	assert.Equal(t, DecisionNone, decision)
	assert.Nil(t, match)
}

func TestIndexSuggestTier(t *testing.T) {
	embedder := embedders.NewFakeEmbedder(4)
	embedder.Overrides["Wat is een DPIA?"] = []float32{1, 0, 0, 0}
	embedder.Overrides["Wat betekent DPIA?"] = []float32{0, 0, 0, 1}
	embedder.Overrides["Wanneer is een DPIA verplicht?"] = []float32{0, 0, 1, 0}
	embedder.Overrides["Hoe vraag ik zorgtoeslag aan?"] = []float32{0, 1, 0, 0}
	embedder.Overrides["Waar kan ik zorgtoeslag aanvragen?"] = []float32{0, 0.9, float32(math.Sqrt(1 - 0.81)), 0}
	// cosine against {1,0,0,0} is 0.75: between the tiers.
	embedder.Overrides["iets over een DPIA"] = []float32{0.75, float32(math.Sqrt(1 - 0.5625)), 0, 0}

	path := writeFAQFile(t, testEntries())
	idx := NewIndex(path, embedder)
	require.NoError(t, idx.Load(context.Background()))

	match, decision, err := idx.BestMatch(context.Background(), "iets over een DPIA")
	require.NoError(t, err)
	require.Equal(t, DecisionSuggest, decision)
	require.NotNil(t, match)
	assert.Equal(t, "FAQ-001", match.FAQID)
	assert.InDelta(t, 0.75, float64(match.Score), 1e-4)
}

func TestIndexDedupesByFAQ(t *testing.T) {
	path := writeFAQFile(t, testEntries())
	idx := NewIndex(path, embedders.NewFakeEmbedder(8))
	require.NoError(t, idx.Load(context.Background()))

	matches, err := idx.Match(context.Background(), "Wat is een DPIA?", 5)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, m := range matches {
		assert.False(t, seen[m.FAQID], "duplicate FAQ id %s", m.FAQID)
		seen[m.FAQID] = true
	}
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
}

func TestIndexMissingFile(t *testing.T) {
	idx := NewIndex(filepath.Join(t.TempDir(), "absent.json"), embedders.NewFakeEmbedder(8))
	require.NoError(t, idx.Load(context.Background()))
	assert.Equal(t, 0, idx.Size())

	match, decision, err := idx.BestMatch(context.Background(), "Wat is een DPIA?")
	require.NoError(t, err)
	assert.Equal(t, DecisionNone, decision)
	assert.Nil(t, match)
}

func TestIndexReload(t *testing.T) {
	path := writeFAQFile(t, testEntries()[:1])
	idx := NewIndex(path, embedders.NewFakeEmbedder(8))
	require.NoError(t, idx.Load(context.Background()))
	require.Equal(t, 3, idx.Size())

	data, err := json.Marshal(entryFile{FAQs: testEntries()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, idx.Reload(context.Background()))
	assert.Equal(t, 5, idx.Size())

	match, decision, err := idx.BestMatch(context.Background(), "Hoe vraag ik zorgtoeslag aan?")
	require.NoError(t, err)
	assert.Equal(t, DecisionExact, decision)
	require.NotNil(t, match)
	assert.Equal(t, "FAQ-002", match.FAQID)
}
