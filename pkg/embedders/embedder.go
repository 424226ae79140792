// Package embedders defines the embedding-provider contract used by the FAQ
// semantic match index.
package embedders

import "context"

// Provider turns a batch of strings into fixed-dimension vectors.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
