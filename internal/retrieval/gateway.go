package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"searchchat-backend/internal/embedding"
	"searchchat-backend/internal/metrics"
	"searchchat-backend/internal/models"
	"searchchat-backend/internal/vectorstore"
)

// ErrRetrievalUnavailable is returned when the embedding or vector backend
// cannot be reached or does not answer in time.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

type Config struct {
	TopK                int
	MaxTopK             int
	CandidateMultiplier int
	Timeout             time.Duration
	Retries             int
	RetryDelay          time.Duration
}

// Gateway wraps the external embedding and vector search backends.
type Gateway struct {
	embedder embedding.Embedder
	store    vectorstore.Store
	reranker Reranker // optional
	keyer    *Keyer
	cfg      Config
	logger   *zap.Logger
}

func NewGateway(e embedding.Embedder, s vectorstore.Store, r Reranker, k *Keyer, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.MaxTopK < cfg.TopK {
		cfg.MaxTopK = cfg.TopK
	}
	if cfg.CandidateMultiplier < 1 {
		cfg.CandidateMultiplier = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Gateway{
		embedder: e,
		store:    s,
		reranker: r,
		keyer:    k,
		cfg:      cfg,
		logger:   logger.Named("retrieval"),
	}
}

// Validate reports whether a caller supplied context still carries the key
// this gateway would compute for it.
func (g *Gateway) Validate(c *models.Context) bool {
	return g.keyer.Valid(c)
}

// TopK resolves a requested passage count against the configured bounds.
func (g *Gateway) TopK(requested int) int {
	if requested <= 0 {
		return g.cfg.TopK
	}
	if requested > g.cfg.MaxTopK {
		return g.cfg.MaxTopK
	}
	return requested
}

// Health checks the vector store.
func (g *Gateway) Health(ctx context.Context) error {
	return g.store.Health(ctx)
}

// Retrieve returns the top passages for question together with a validity key.
// An empty result is not an error.
func (g *Gateway) Retrieve(ctx context.Context, question string, topK int) (models.Context, error) {
	topK = g.TopK(topK)
	query := CleanQuery(question)
	if query == "" {
		query = strings.ToLower(strings.TrimSpace(question))
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	var vector []float32
	err := g.withRetry(ctx, "embed", func() error {
		v, err := embedding.EmbedOne(ctx, g.embedder, query)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return models.Context{}, fmt.Errorf("%w: embed query: %v", ErrRetrievalUnavailable, err)
	}

	candidates := topK * g.cfg.CandidateMultiplier
	var hits []vectorstore.Hit
	err = g.withRetry(ctx, "search", func() error {
		h, err := g.store.Search(ctx, vector, candidates)
		if err != nil {
			return err
		}
		hits = h
		return nil
	})
	if err != nil {
		return models.Context{}, fmt.Errorf("%w: %s search: %v", ErrRetrievalUnavailable, g.store.Name(), err)
	}

	hits = g.rerank(ctx, query, hits, topK)

	passages := make([]models.Passage, 0, len(hits))
	for _, h := range hits {
		passages = append(passages, models.Passage{
			ID:       h.ID,
			Text:     h.Text,
			Metadata: h.Metadata,
			Score:    h.Score,
		})
	}

	g.logger.Debug("Retrieve: passages selected",
		zap.String("query", query),
		zap.Int("candidates", len(hits)),
		zap.Int("passages", len(passages)))

	return models.Context{
		Query:       query,
		Passages:    passages,
		ValidityKey: g.keyer.Key(query, passages),
	}, nil
}

// rerank applies the optional cross-encoder. On failure the store order is kept.
func (g *Gateway) rerank(ctx context.Context, query string, hits []vectorstore.Hit, topK int) []vectorstore.Hit {
	if g.reranker != nil && len(hits) > 1 {
		start := time.Now()
		ranked, err := g.reranker.Rerank(ctx, query, hits, topK)
		metrics.ObserveBackend("reranker", "rerank", start, err)
		if err == nil {
			hits = ranked
		} else {
			g.logger.Warn("Rerank failed, keeping vector order", zap.Error(err))
		}
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func (g *Gateway) withRetry(ctx context.Context, op string, fn func() error) error {
	backend := "vectorstore"
	if op == "embed" {
		backend = "embedding"
	}
	return retry.Do(func() error {
		start := time.Now()
		err := fn()
		metrics.ObserveBackend(backend, op, start, err)
		if errors.Is(err, vectorstore.ErrEmptyVector) {
			return retry.Unrecoverable(err)
		}
		return err
	},
		retry.Context(ctx),
		retry.Attempts(uint(g.cfg.Retries)+1),
		retry.Delay(g.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warn("Retrying backend call", zap.String("op", op), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}
