package embedding

import (
	"context"
	"errors"
)

// Embedder turns texts into vectors. Implementations must return one vector per
// input text, in input order.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrDimensionMismatch is returned when a backend answers with vectors of an
// unexpected size.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errors.New("embedder returned no vector")
	}
	return vecs[0], nil
}
