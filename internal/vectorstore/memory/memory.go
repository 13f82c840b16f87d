package memory

import (
	"container/heap"
	"context"
	"fmt"
	"os"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"searchchat-backend/internal/embedding"
	"searchchat-backend/internal/vectorstore"
)

// Compile-time check to ensure Store implements vectorstore.Store
var _ vectorstore.Store = (*Store)(nil)

type row struct {
	hit    vectorstore.Hit
	vector *mat.VecDense
	norm   float64
}

// Store is an in-process brute force cosine index.
type Store struct {
	mu   sync.RWMutex
	rows []row
}

func New() *Store {
	return &Store{}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Health(context.Context) error { return nil }

// Add inserts or replaces a passage.
func (s *Store) Add(id, text string, metadata map[string]string, vector []float32) {
	v := toVec(vector)
	r := row{
		hit:    vectorstore.Hit{ID: id, Text: text, Metadata: metadata},
		vector: v,
		norm:   mat.Norm(v, 2),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].hit.ID == id {
			s.rows[i] = r
			return
		}
	}
	s.rows = append(s.rows, r)
}

// Len returns the number of stored passages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *Store) Search(ctx context.Context, vector []float32, limit int) ([]vectorstore.Hit, error) {
	if len(vector) == 0 {
		return nil, vectorstore.ErrEmptyVector
	}
	if limit <= 0 {
		return nil, nil
	}
	q := toVec(vector)
	qNorm := mat.Norm(q, 2)

	s.mu.RLock()
	defer s.mu.RUnlock()

	best := &hitHeap{}
	for _, r := range s.rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.vector.Len() != q.Len() {
			return nil, fmt.Errorf("memory store: vector of %s has %d dims, query has %d", r.hit.ID, r.vector.Len(), q.Len())
		}
		score := 0.0
		if r.norm > 0 && qNorm > 0 {
			score = mat.Dot(q, r.vector) / (r.norm * qNorm)
		}
		h := r.hit
		h.Score = score
		if best.Len() < limit {
			heap.Push(best, h)
		} else if (*best)[0].Score < score {
			(*best)[0] = h
			heap.Fix(best, 0)
		}
	}

	out := make([]vectorstore.Hit, best.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(best).(vectorstore.Hit)
	}
	return out, nil
}

func toVec(v []float32) *mat.VecDense {
	data := make([]float64, len(v))
	for i, x := range v {
		data[i] = float64(x)
	}
	return mat.NewVecDense(len(data), data)
}

// hitHeap is a min-heap on score so the weakest of the current best is at the root.
type hitHeap []vectorstore.Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x interface{}) {
	*h = append(*h, x.(vectorstore.Hit))
}

func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// SeedPassage is one entry of a development fixture file.
type SeedPassage struct {
	ID       string            `yaml:"id"`
	Text     string            `yaml:"text"`
	Metadata map[string]string `yaml:"metadata"`
}

// LoadSeed reads fixture passages from a YAML file with a top-level "passages" list.
func LoadSeed(path string) ([]SeedPassage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var doc struct {
		Passages []SeedPassage `yaml:"passages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, p := range doc.Passages {
		if p.ID == "" || p.Text == "" {
			return nil, fmt.Errorf("seed passage %d: id and text are required", i)
		}
	}
	return doc.Passages, nil
}

// Index embeds seed passages and adds them to the store.
func (s *Store) Index(ctx context.Context, e embedding.Embedder, seeds []SeedPassage) error {
	if len(seeds) == 0 {
		return nil
	}
	texts := make([]string, len(seeds))
	for i, p := range seeds {
		texts[i] = p.Text
	}
	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed seed passages: %w", err)
	}
	if len(vecs) != len(seeds) {
		return fmt.Errorf("embedder returned %d vectors for %d seed passages", len(vecs), len(seeds))
	}
	for i, p := range seeds {
		s.Add(p.ID, p.Text, p.Metadata, vecs[i])
	}
	return nil
}
