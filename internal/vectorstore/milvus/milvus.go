package milvus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"searchchat-backend/internal/vectorstore"
)

// Compile-time check to ensure Store implements vectorstore.Store
var _ vectorstore.Store = (*Store)(nil)

// Field names expected in the collection schema.
const (
	FieldText     = "text"
	FieldMetadata = "metadata"
)

// searcher is the subset of client.Client used here.
type searcher interface {
	Search(ctx context.Context, collName string, partitions []string, expr string, outputFields []string,
		vectors []entity.Vector, vectorField string, metricType entity.MetricType, topK int,
		sp entity.SearchParam, opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error)
	HasCollection(ctx context.Context, collName string) (bool, error)
}

type Config struct {
	Address     string
	Username    string
	Password    string
	Collection  string
	VectorField string
}

// Store searches a Milvus collection using cosine similarity.
type Store struct {
	client      searcher
	closer      func() error
	collection  string
	vectorField string
}

// Connect dials Milvus and returns a ready store.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("milvus: connect to %s: %w", cfg.Address, err)
	}
	s := newStore(c, cfg)
	s.closer = c.Close
	return s, nil
}

func newStore(c searcher, cfg Config) *Store {
	field := cfg.VectorField
	if field == "" {
		field = "vector"
	}
	return &Store{client: c, collection: cfg.Collection, vectorField: field}
}

func (s *Store) Name() string { return "milvus" }

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *Store) Health(ctx context.Context) error {
	ok, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("milvus: has collection: %w", err)
	}
	if !ok {
		return fmt.Errorf("milvus: collection %q does not exist", s.collection)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, limit int) ([]vectorstore.Hit, error) {
	if len(vector) == 0 {
		return nil, vectorstore.ErrEmptyVector
	}
	if limit <= 0 {
		return nil, nil
	}
	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, fmt.Errorf("milvus: search param: %w", err)
	}

	results, err := s.client.Search(ctx, s.collection, nil, "",
		[]string{FieldText, FieldMetadata},
		[]entity.Vector{entity.FloatVector(vector)},
		s.vectorField, entity.COSINE, limit, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus: search %s: %w", s.collection, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	// one query vector, one result set
	return toHits(results[0])
}

func toHits(res client.SearchResult) ([]vectorstore.Hit, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	textCol := res.Fields.GetColumn(FieldText)
	if textCol == nil {
		return nil, errors.New("milvus: result is missing the text field")
	}
	metaCol := res.Fields.GetColumn(FieldMetadata)

	hits := make([]vectorstore.Hit, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		id, err := columnString(res.IDs, i)
		if err != nil {
			return nil, fmt.Errorf("milvus: id %d: %w", i, err)
		}
		text, err := textCol.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("milvus: text %d: %w", i, err)
		}
		hit := vectorstore.Hit{ID: id, Text: text}
		if i < len(res.Scores) {
			hit.Score = float64(res.Scores[i])
		}
		if metaCol != nil {
			hit.Metadata = decodeMetadata(metaCol, i)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// columnString reads a primary key that may be VarChar or Int64.
func columnString(col entity.Column, i int) (string, error) {
	if col == nil {
		return "", errors.New("missing column")
	}
	if s, err := col.GetAsString(i); err == nil {
		return s, nil
	}
	n, err := col.GetAsInt64(i)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

func decodeMetadata(col entity.Column, i int) map[string]string {
	raw, err := col.Get(i)
	if err != nil {
		return nil
	}
	var data []byte
	switch v := raw.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, _ := json.Marshal(v)
		out[k] = string(b)
	}
	return out
}
