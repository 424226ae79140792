// Package retrieval defines the document-retrieval contract and the source
// metadata that travels with every answer.
package retrieval

import "context"

// Document is one ranked hit from the knowledge base.
type Document struct {
	ID            string  `json:"document_id"`
	Title         string  `json:"title"`
	Score         float64 `json:"relevance_score"`
	Content       string  `json:"content"`
	Snippet       string  `json:"content_snippet,omitempty"`
	URL           string  `json:"url,omitempty"`
	FilePath      string  `json:"file_path,omitempty"`
	SectionTitle  string  `json:"section_title,omitempty"`
	ChunkIndex    int     `json:"chunk_index,omitempty"`
	TotalChunks   int     `json:"total_chunks,omitempty"`
	DocumentTitle string  `json:"document_title,omitempty"`
}

// SourceReference is the compact source metadata stored alongside an answer
// and returned to the caller.
type SourceReference struct {
	Title         string  `json:"title"`
	DocumentID    string  `json:"document_id"`
	Snippet       string  `json:"snippet"`
	Score         float64 `json:"relevance_score"`
	URL           string  `json:"url"`
	FilePath      string  `json:"file_path,omitempty"`
	SectionTitle  string  `json:"section_title,omitempty"`
	ChunkIndex    int     `json:"chunk_index,omitempty"`
	TotalChunks   int     `json:"total_chunks,omitempty"`
	DocumentTitle string  `json:"document_title,omitempty"`
}

// Service is the document retrieval collaborator.
type Service interface {
	Search(ctx context.Context, query string, maxResults int) ([]Document, error)
}

const snippetLength = 200

// SourceFromDocument builds the compact reference kept in memory and
// responses. The snippet is capped at the first ~200 characters.
func SourceFromDocument(doc Document) SourceReference {
	content := doc.Content
	if content == "" {
		content = doc.Snippet
	}
	snippet := content
	if len(snippet) > snippetLength {
		snippet = snippet[:snippetLength]
	}
	return SourceReference{
		Title:         doc.Title,
		DocumentID:    doc.ID,
		Snippet:       snippet,
		Score:         doc.Score,
		URL:           doc.URL,
		FilePath:      doc.FilePath,
		SectionTitle:  doc.SectionTitle,
		ChunkIndex:    doc.ChunkIndex,
		TotalChunks:   doc.TotalChunks,
		DocumentTitle: doc.DocumentTitle,
	}
}

// DedupeSources removes duplicate document ids, keeping the first occurrence.
// References without a document id are always kept.
func DedupeSources(sources []SourceReference) []SourceReference {
	seen := make(map[string]bool, len(sources))
	out := make([]SourceReference, 0, len(sources))
	for _, src := range sources {
		if src.DocumentID != "" {
			if seen[src.DocumentID] {
				continue
			}
			seen[src.DocumentID] = true
		}
		out = append(out, src)
	}
	return out
}

// SourceIDs extracts the ordered document ids from a source list, skipping
// references without one.
func SourceIDs(sources []SourceReference) []string {
	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.DocumentID != "" {
			ids = append(ids, src.DocumentID)
		}
	}
	return ids
}
