package vectorstore

import (
	"context"
	"errors"
)

// Hit is one nearest-neighbour result. Score is a similarity, higher is better.
type Hit struct {
	ID       string
	Text     string
	Metadata map[string]string
	Score    float64
}

// Store is the read side of the external vector index. Writing is done by the
// indexing pipeline and is not part of this service.
type Store interface {
	Name() string
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)
	Health(ctx context.Context) error
}

// ErrEmptyVector is returned when a search is issued without a query vector.
var ErrEmptyVector = errors.New("query vector is empty")
