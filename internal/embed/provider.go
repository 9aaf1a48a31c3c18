// Package embed defines the embedding-provider capability used by the
// processor. The provider is a plain interface so the HTTP-backed client can
// be swapped for a different model endpoint (or a test stub) without the
// pipeline knowing.
package embed

import "context"

// Provider generates an embedding vector for a single text. Implementations
// own their timeout behavior; callers do not retry.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Normalize forces vec to exactly dim components: shorter vectors are
// zero-padded, longer ones truncated. Every collection stores vectors of one
// fixed dimensionality, whatever the provider actually returned.
func Normalize(vec []float32, dim int) []float32 {
	if len(vec) == dim {
		return vec
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out
}
