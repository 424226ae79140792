package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceFromDocument_SnippetCap(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}

	src := SourceFromDocument(Document{ID: "doc-1", Title: "AVG", Content: string(long)})
	assert.Len(t, src.Snippet, 200)
	assert.Equal(t, "doc-1", src.DocumentID)
}

func TestSourceFromDocument_FallsBackToSnippet(t *testing.T) {
	src := SourceFromDocument(Document{ID: "doc-1", Snippet: "kort"})
	assert.Equal(t, "kort", src.Snippet)
}

func TestDedupeSources(t *testing.T) {
	sources := []SourceReference{
		{DocumentID: "a", Title: "first"},
		{DocumentID: "b"},
		{DocumentID: "a", Title: "second"},
		{Title: "no id"},
		{Title: "also no id"},
	}

	unique := DedupeSources(sources)
	assert.Len(t, unique, 4)
	assert.Equal(t, "first", unique[0].Title, "first occurrence wins")
	assert.Equal(t, []string{"a", "b"}, SourceIDs(unique))
}
