package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"searchchat-backend/internal/vectorstore"
)

// Compile-time check to ensure PassageSearcher implements vectorstore.Store
var _ vectorstore.Store = (*PassageSearcher)(nil)

// PassageSearcher queries a pgvector table populated by the indexing pipeline.
// Expected columns: id TEXT, content TEXT, metadata JSONB, embedding VECTOR(n).
type PassageSearcher struct {
	db    *pgxpool.Pool
	query string
	table string
}

func NewPassageSearcher(db *pgxpool.Pool, table string) *PassageSearcher {
	return &PassageSearcher{db: db, table: table, query: searchQuery(table)}
}

func (p *PassageSearcher) Name() string { return "pgvector" }

func (p *PassageSearcher) Health(ctx context.Context) error {
	var exists bool
	err := p.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, p.table).Scan(&exists)
	if err != nil {
		return fmt.Errorf("database error checking %s: %w", p.table, err)
	}
	if !exists {
		return fmt.Errorf("passage table %s does not exist", p.table)
	}
	return nil
}

func (p *PassageSearcher) Search(ctx context.Context, vector []float32, limit int) ([]vectorstore.Hit, error) {
	if len(vector) == 0 {
		return nil, vectorstore.ErrEmptyVector
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := p.db.Query(ctx, p.query, vectorLiteral(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("database error searching passages: %w", err)
	}
	defer rows.Close()

	var hits []vectorstore.Hit
	for rows.Next() {
		var (
			hit  vectorstore.Hit
			meta []byte
		)
		if err := rows.Scan(&hit.ID, &hit.Text, &meta, &hit.Score); err != nil {
			return nil, fmt.Errorf("database error scanning passage: %w", err)
		}
		hit.Metadata = decodeMetadata(meta)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error iterating passages: %w", err)
	}
	return hits, nil
}

// searchQuery builds the cosine similarity query for a (possibly schema
// qualified) table name.
func searchQuery(table string) string {
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	return `SELECT id, content, COALESCE(metadata, '{}'::jsonb)::text, 1 - (embedding <=> $1::vector) AS score
		FROM ` + ident + `
		ORDER BY embedding <=> $1::vector
		LIMIT $2`
}

// vectorLiteral renders a pgvector text literal such as [0.1,0.2].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func decodeMetadata(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			b, _ := json.Marshal(t)
			out[k] = string(b)
		}
	}
	return out
}
