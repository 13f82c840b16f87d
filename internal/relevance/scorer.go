package relevance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"searchchat-backend/internal/embedding"
	"searchchat-backend/internal/metrics"
	"searchchat-backend/internal/models"
)

// Scorer rates how related a follow-up question is to a previous context.
// Scores are cosine similarities in [-1, 1].
type Scorer interface {
	Score(ctx context.Context, question string, c *models.Context) (float64, error)
}

// ErrNothingToCompare is returned for a context with neither passages nor a query.
var ErrNothingToCompare = errors.New("context has nothing to compare against")

// EmbeddingScorer embeds the question together with the passage texts and the
// context's origin query and returns the best cosine similarity.
type EmbeddingScorer struct {
	embedder embedding.Embedder
	timeout  time.Duration
}

func NewEmbeddingScorer(e embedding.Embedder, timeout time.Duration) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: e, timeout: timeout}
}

func (s *EmbeddingScorer) Score(ctx context.Context, question string, c *models.Context) (float64, error) {
	if c == nil {
		return 0, ErrNothingToCompare
	}
	texts := make([]string, 0, len(c.Passages)+2)
	texts = append(texts, question)
	if c.Query != "" {
		texts = append(texts, c.Query)
	}
	for _, p := range c.Passages {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 1 {
		return 0, ErrNothingToCompare
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	vecs, err := s.embedder.Embed(ctx, texts)
	metrics.ObserveBackend("embedding", "relevance", start, err)
	if err != nil {
		return 0, fmt.Errorf("embed relevance inputs: %w", err)
	}
	if len(vecs) != len(texts) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	q := toVec(vecs[0])
	best := -1.0
	for _, v := range vecs[1:] {
		if sim := Cosine(q, toVec(v)); sim > best {
			best = sim
		}
	}
	metrics.ObserveRelevance(best)
	return best, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero vector
// or the lengths differ.
func Cosine(a, b *mat.VecDense) float64 {
	if a.Len() != b.Len() {
		return 0
	}
	na, nb := mat.Norm(a, 2), mat.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return mat.Dot(a, b) / (na * nb)
}

func toVec(v []float32) *mat.VecDense {
	data := make([]float64, len(v))
	for i, x := range v {
		data[i] = float64(x)
	}
	return mat.NewVecDense(len(data), data)
}
