package faq

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/kletsmajoor/klets/pkg/embedders"
	"github.com/kletsmajoor/klets/pkg/retrieval"
)

const (
	// ExactThreshold is the similarity at or above which a match is
	// confident enough to answer without invoking the model.
	ExactThreshold = 0.85

	// SuggestThreshold is the similarity at or above which a match is
	// surfaced as a hint alongside a model-generated answer.
	SuggestThreshold = 0.70

	// MaxRelatedQuestions caps the "you may also want to know" list.
	MaxRelatedQuestions = 5

	collectionName = "faq-variants"
)

// Decision classifies the best match against the confidence tiers.
type Decision string

const (
	DecisionExact   Decision = "exact"
	DecisionSuggest Decision = "suggest"
	DecisionNone    Decision = "none"
)

// Match is a single FAQ hit: the owning entry plus the variant that
// actually matched and its similarity score.
type Match struct {
	FAQID            string
	Category         string
	MatchedQuestion  string
	Answer           string
	Score            float32
	RelatedQuestions []string
	Metadata         map[string]string
	Sources          []retrieval.SourceReference
}

// Index holds the embedded question variants and answers them by cosine
// similarity. All methods are safe for concurrent use; Reload swaps the
// underlying collection atomically under the write lock.
type Index struct {
	mu       sync.RWMutex
	path     string
	embedder embedders.Provider

	col     *chromem.Collection
	entries map[string]Entry
	byDocID map[string]variantRef
	count   int
}

type variantRef struct {
	faqID    string
	question string
}

// NewIndex creates an empty index over the given FAQ file. Call Load to
// build it.
func NewIndex(path string, embedder embedders.Provider) *Index {
	return &Index{
		path:     path,
		embedder: embedder,
		entries:  map[string]Entry{},
		byDocID:  map[string]variantRef{},
	}
}

// Load builds the index from the FAQ file. A missing file is not an
// error: the index stays empty and every query resolves to DecisionNone.
func (i *Index) Load(ctx context.Context) error {
	if _, err := os.Stat(i.path); os.IsNotExist(err) {
		slog.Warn("FAQ file not found, semantic matching disabled", "path", i.path)
		return nil
	}

	entries, err := LoadFile(i.path)
	if err != nil {
		return err
	}
	return i.build(ctx, entries)
}

// Reload rebuilds the index from scratch. Used by the file watcher and
// the admin reload endpoint.
func (i *Index) Reload(ctx context.Context) error {
	entries, err := LoadFile(i.path)
	if err != nil {
		return err
	}
	return i.build(ctx, entries)
}

func (i *Index) build(ctx context.Context, entries []Entry) error {
	byID := make(map[string]Entry, len(entries))
	byDocID := map[string]variantRef{}

	var texts []string
	var docIDs []string
	for _, entry := range entries {
		byID[entry.ID] = entry
		for vi, q := range entry.Questions {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			docID := fmt.Sprintf("%s#%d", entry.ID, vi)
			byDocID[docID] = variantRef{faqID: entry.ID, question: q}
			texts = append(texts, q)
			docIDs = append(docIDs, docID)
		}
	}

	var col *chromem.Collection
	if len(texts) > 0 {
		vectors, err := i.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed FAQ questions: %w", err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d questions", len(vectors), len(texts))
		}

		db := chromem.NewDB()
		col, err = db.GetOrCreateCollection(collectionName, nil, nil)
		if err != nil {
			return fmt.Errorf("failed to create FAQ collection: %w", err)
		}

		docs := make([]chromem.Document, len(texts))
		for j := range texts {
			docs[j] = chromem.Document{
				ID:        docIDs[j],
				Content:   texts[j],
				Embedding: normalize(vectors[j]),
				Metadata:  map[string]string{"faq_id": byDocID[docIDs[j]].faqID},
			}
		}
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("failed to index FAQ questions: %w", err)
		}
	}

	i.mu.Lock()
	i.col = col
	i.entries = byID
	i.byDocID = byDocID
	i.count = len(texts)
	i.mu.Unlock()

	slog.Info("FAQ index built", "faqs", len(entries), "variants", len(texts))
	return nil
}

// Size returns the number of indexed question variants.
func (i *Index) Size() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.count
}

// Match returns up to k FAQ matches for the query, deduplicated by FAQ id
// (the highest-ranked variant wins) and sorted by descending similarity.
// An empty index returns no matches.
func (i *Index) Match(ctx context.Context, query string, k int) ([]Match, error) {
	i.mu.RLock()
	col := i.col
	count := i.count
	i.mu.RUnlock()

	if col == nil || count == 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vectors, err := i.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for query", len(vectors))
	}

	if k > count {
		k = count
	}
	if k < 1 {
		k = 1
	}

	results, err := col.QueryEmbedding(ctx, normalize(vectors[0]), k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("FAQ query failed: %w", err)
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	seen := map[string]bool{}
	var matches []Match
	for _, res := range results {
		ref, ok := i.byDocID[res.ID]
		if !ok {
			continue
		}
		if seen[ref.faqID] {
			continue
		}
		seen[ref.faqID] = true

		entry := i.entries[ref.faqID]
		matches = append(matches, Match{
			FAQID:            entry.ID,
			Category:         entry.Category,
			MatchedQuestion:  ref.question,
			Answer:           entry.Answer,
			Score:            res.Similarity,
			RelatedQuestions: relatedQuestions(entry, ref.question),
			Metadata:         entry.Metadata,
			Sources:          entry.Sources,
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	return matches, nil
}

// BestMatch returns the top match and its confidence decision.
func (i *Index) BestMatch(ctx context.Context, query string) (*Match, Decision, error) {
	matches, err := i.Match(ctx, query, 3)
	if err != nil {
		return nil, DecisionNone, err
	}
	if len(matches) == 0 {
		return nil, DecisionNone, nil
	}

	best := matches[0]
	switch {
	case best.Score >= ExactThreshold:
		return &best, DecisionExact, nil
	case best.Score >= SuggestThreshold:
		return &best, DecisionSuggest, nil
	default:
		return nil, DecisionNone, nil
	}
}

func relatedQuestions(entry Entry, matched string) []string {
	var related []string
	for _, q := range entry.Questions {
		if q == matched {
			continue
		}
		related = append(related, q)
		if len(related) == MaxRelatedQuestions {
			break
		}
	}
	return related
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for j, x := range v {
		out[j] = x / norm
	}
	return out
}
