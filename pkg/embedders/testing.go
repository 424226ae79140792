package embedders

import (
	"context"
	"hash/fnv"
	"math"
)

// FakeEmbedder produces deterministic unit vectors for tests. Identical texts
// map to identical vectors, so an exact query scores cosine similarity 1.0
// against its stored variant. Overrides allow pinning specific vectors to
// exercise the two-tier thresholds.
type FakeEmbedder struct {
	Dim       int
	Overrides map[string][]float32
}

func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim, Overrides: map[string][]float32{}}
}

func (f *FakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.Overrides[text]; ok {
			out[i] = v
			continue
		}
		out[i] = f.vectorFor(text)
	}
	return out, nil
}

func (f *FakeEmbedder) Dimension() int {
	return f.Dim
}

func (f *FakeEmbedder) vectorFor(text string) []float32 {
	v := make([]float32, f.Dim)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	var norm float64
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(seed>>33)) / float32(math.MaxInt32)
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
