package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"searchchat-backend/internal/llm"
	"searchchat-backend/internal/models"
	"searchchat-backend/internal/retrieval"
	"searchchat-backend/internal/tokens"
)

var refundPassages = []models.Passage{
	{ID: "refund-1", Text: "Refunds are issued within 14 days of purchase.", Score: 0.83, Metadata: map[string]string{"DOC_TITLE": "Refund Policy"}},
	{ID: "refund-2", Text: "International orders are refunded in the original currency.", Score: 0.71},
}

// fakeRetriever signs what it returns with a real keyer so validation behaves
// exactly like the gateway.
type fakeRetriever struct {
	mu       sync.Mutex
	keyer    *retrieval.Keyer
	passages []models.Passage
	err      error
	calls    int
}

func newFakeRetriever(t *testing.T) *fakeRetriever {
	t.Helper()
	k, err := retrieval.NewKeyer([]byte("0123456789abcdef0123456789abcdef"), "1")
	require.NoError(t, err)
	return &fakeRetriever{keyer: k, passages: refundPassages}
}

func (f *fakeRetriever) Retrieve(ctx context.Context, question string, _ int) (models.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return models.Context{}, f.err
	}
	if err := ctx.Err(); err != nil {
		return models.Context{}, err
	}
	query := retrieval.CleanQuery(question)
	ps := append([]models.Passage(nil), f.passages...)
	return models.Context{Query: query, Passages: ps, ValidityKey: f.keyer.Key(query, ps)}, nil
}

func (f *fakeRetriever) Validate(c *models.Context) bool { return f.keyer.Valid(c) }

func (f *fakeRetriever) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeScorer struct {
	score float64
	err   error
	calls int
}

func (f *fakeScorer) Score(context.Context, string, *models.Context) (float64, error) {
	f.calls++
	return f.score, f.err
}

// fakeCompleter answers answer and suggestion prompts differently.
type fakeCompleter struct {
	mu             sync.Mutex
	answer         string
	answerErr      error
	suggestions    string
	suggestionErr  error
	answerReqs     []llm.Request
	suggestionReqs []llm.Request
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{
		answer:      `{"answer": "Refunds are issued within 14 days.", "confidence_score": 0.9}`,
		suggestions: `{"suggestions": ["How long do international refunds take?", "Which currency is used for refunds?"]}`,
	}
}

func isSuggestionRequest(req llm.Request) bool {
	return strings.Contains(req.System, "follow-up questions")
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if isSuggestionRequest(req) {
		f.suggestionReqs = append(f.suggestionReqs, req)
		if f.suggestionErr != nil {
			return llm.Completion{}, f.suggestionErr
		}
		return llm.Completion{Text: f.suggestions}, nil
	}
	f.answerReqs = append(f.answerReqs, req)
	if f.answerErr != nil {
		return llm.Completion{}, f.answerErr
	}
	if err := ctx.Err(); err != nil {
		return llm.Completion{}, err
	}
	return llm.Completion{Text: f.answer}, nil
}

func (f *fakeCompleter) requests() (answers, suggestions []llm.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.answerReqs...), append([]llm.Request(nil), f.suggestionReqs...)
}

type recordingSink struct {
	mu        sync.Mutex
	requestID string
	chunks    []string
	failAfter int // fail on this chunk index when > 0
}

func (s *recordingSink) Begin(requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestID = requestID
	return nil
}

func (s *recordingSink) Chunk(delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.chunks) == s.failAfter {
		return errors.New("broken pipe")
	}
	s.chunks = append(s.chunks, delta)
	return nil
}

func (s *recordingSink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.chunks, "")
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []*models.TurnLog
}

func (r *captureRecorder) Record(_ context.Context, entry *models.TurnLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *captureRecorder) Last() *models.TurnLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	return r.entries[len(r.entries)-1]
}

type harness struct {
	orch      *Orchestrator
	retriever *fakeRetriever
	scorer    *fakeScorer
	llm       *fakeCompleter
	recorder  *captureRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		retriever: newFakeRetriever(t),
		scorer:    &fakeScorer{score: 0.9},
		llm:       newFakeCompleter(),
		recorder:  &captureRecorder{},
	}
	decider := NewDecider(h.retriever, h.scorer, 0.55, 0.05, logger)
	answers := NewAnswerGenerator(h.llm, tokens.Approx{}, AnswerConfig{MaxPassageChars: 3000, HistoryTokenBudget: 3000}, logger)
	suggestions := NewSuggestionGenerator(h.llm, SuggestionConfig{Max: 4, MaxPassageChars: 3000}, logger)
	h.orch = NewOrchestrator(h.retriever, decider, answers, suggestions, h.recorder,
		OrchestratorConfig{ChunkRunes: 5}, logger)
	return h
}
