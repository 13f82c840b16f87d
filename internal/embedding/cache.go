package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"
)

// Cached memoizes vectors per text. Passages of a carried-over context are
// re-embedded on every follow-up relevance check, so hits are common.
type Cached struct {
	inner Embedder

	mu    sync.Mutex
	cache *lru.Cache
}

func NewCached(inner Embedder, size int) *Cached {
	if size <= 0 {
		size = 1024
	}
	return &Cached{inner: inner, cache: lru.New(size)}
}

func (c *Cached) Name() string   { return c.inner.Name() }
func (c *Cached) Dimension() int { return c.inner.Dimension() }

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	c.mu.Lock()
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder %s returned %d vectors for %d texts", c.inner.Name(), len(vecs), len(missTexts))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Add(missTexts[j], vecs[j])
	}
	return out, nil
}
