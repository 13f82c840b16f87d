package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"

	"searchchat-backend/internal/vectorstore"
)

// Reranker reorders candidates, typically using an external cross-encoder service.
type Reranker interface {
	Rerank(ctx context.Context, query string, in []vectorstore.Hit, topN int) ([]vectorstore.Hit, error)
}

// HTTPReranker posts candidates to a cross-encoder service.
// Request:  {"query":"...","candidates":[{"id":"","text":"..."}],"top_n":3}
// Response: {"ranking":[{"id":"","score":0.9}]}
type HTTPReranker struct {
	endpoint string
	client   *http.Client
	retries  uint
}

func NewHTTPReranker(endpoint string, timeout time.Duration, retries int) *HTTPReranker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &HTTPReranker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		retries:  uint(retries),
	}
}

type rerankReq struct {
	Query      string            `json:"query"`
	Candidates []rerankCandidate `json:"candidates"`
	TopN       int               `json:"top_n,omitempty"`
}

type rerankCandidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type rerankResp struct {
	Ranking []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"ranking"`
}

func (h *HTTPReranker) Rerank(ctx context.Context, query string, in []vectorstore.Hit, topN int) ([]vectorstore.Hit, error) {
	if len(in) == 0 {
		return in, nil
	}
	req := rerankReq{Query: query, TopN: topN, Candidates: make([]rerankCandidate, 0, len(in))}
	idx := make(map[string]int, len(in))
	for i, c := range in {
		idx[c.ID] = i
		req.Candidates = append(req.Candidates, rerankCandidate{ID: c.ID, Text: c.Text})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: encode request: %w", err)
	}

	var rr rerankResp
	err = retry.Do(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := h.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("rerank: server returned %s", resp.Status)
		}
		if resp.StatusCode >= 300 {
			return retry.Unrecoverable(fmt.Errorf("rerank: server returned %s", resp.Status))
		}
		rr = rerankResp{}
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			return retry.Unrecoverable(fmt.Errorf("rerank: decode response: %w", err))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(h.retries+1),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	if len(rr.Ranking) == 0 {
		return nil, fmt.Errorf("rerank: empty ranking")
	}

	out := make([]vectorstore.Hit, 0, len(rr.Ranking))
	seen := make(map[string]bool, len(rr.Ranking))
	for _, r := range rr.Ranking {
		i, ok := idx[r.ID]
		if !ok || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		c := in[i]
		c.Score = r.Score
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}
