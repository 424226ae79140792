package retrieval

import (
	"context"
	"sync"
)

// FakeService returns canned documents, recording every query.
type FakeService struct {
	mu      sync.Mutex
	Docs    []Document
	Err     error
	Queries []string
}

func (f *FakeService) Search(ctx context.Context, query string, maxResults int) ([]Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, query)
	if f.Err != nil {
		return nil, f.Err
	}
	if maxResults > 0 && len(f.Docs) > maxResults {
		return f.Docs[:maxResults], nil
	}
	return f.Docs, nil
}
