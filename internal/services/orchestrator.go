package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"searchchat-backend/internal/auth"
	"searchchat-backend/internal/metrics"
	"searchchat-backend/internal/models"
)

// --- Turn State Machine ---

type State string

const (
	StateReceived       State = "RECEIVED"
	StateContextDecided State = "CONTEXT_DECIDED"
	StateGrounded       State = "GROUNDED"
	StateAnswered       State = "ANSWERED"
	StateSuggested      State = "SUGGESTED"
	StateDelivered      State = "DELIVERED"
	StateFailed         State = "FAILED"
)

// transitions lists the legal successors of every non-terminal state.
var transitions = map[State][]State{
	StateReceived:       {StateContextDecided, StateFailed},
	StateContextDecided: {StateGrounded, StateFailed},
	StateGrounded:       {StateAnswered, StateFailed},
	StateAnswered:       {StateSuggested, StateFailed},
	StateSuggested:      {StateDelivered, StateFailed},
}

var (
	errIllegalTransition = errors.New("illegal state transition")
	errStreamAborted     = errors.New("answer stream aborted")
)

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// --- Orchestrator ---

// Retriever is the retrieval gateway as seen by the orchestrator.
type Retriever interface {
	Retrieve(ctx context.Context, question string, topK int) (models.Context, error)
	Validate(c *models.Context) bool
}

type OrchestratorConfig struct {
	ChunkRunes     int
	PacingInterval time.Duration
}

// Orchestrator runs one turn end to end. It holds no per-conversation state and
// is safe for concurrent use.
type Orchestrator struct {
	retriever   Retriever
	decider     *Decider
	answers     *AnswerGenerator
	suggestions *SuggestionGenerator
	recorder    TurnRecorder
	cfg         OrchestratorConfig
	logger      *zap.Logger
}

func NewOrchestrator(r Retriever, d *Decider, a *AnswerGenerator, s *SuggestionGenerator, rec TurnRecorder, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if rec == nil {
		rec = NewLogRecorder(logger)
	}
	return &Orchestrator{
		retriever:   r,
		decider:     d,
		answers:     a,
		suggestions: s,
		recorder:    rec,
		cfg:         cfg,
		logger:      logger.Named("orchestrator"),
	}
}

// turn carries the progress of a single Run.
type turn struct {
	id       string
	start    time.Time
	req      *models.TurnRequest
	state    State
	decision Decision
	context  *models.Context
	history  int
	answer   Answer
	// number of suggestions delivered
	suggestions int
	logger      *zap.Logger
}

func (t *turn) advance(to State) error {
	if !CanTransition(t.state, to) {
		return fmt.Errorf("%w: %s -> %s", errIllegalTransition, t.state, to)
	}
	t.logger.Debug("Turn: state changed", zap.String("from", string(t.state)), zap.String("state", string(to)))
	t.state = to
	return nil
}

// Run executes a turn. sink may be nil, in which case nothing is streamed.
//
// The returned error is:
//   - nil for a delivered turn;
//   - an ErrInvalidRequest wrap, with a nil response, before any backend call;
//   - a *TurnError together with the degraded response for a failed turn;
//   - the context or stream error, with a nil response, when the caller went away.
func (o *Orchestrator) Run(ctx context.Context, req *models.TurnRequest, sink Sink) (*models.TurnResponse, error) {
	start := time.Now()
	if err := ValidateRequest(req); err != nil {
		metrics.ObserveTurn("invalid", start)
		return nil, err
	}

	id := uuid.New()
	t := &turn{
		id:     id.String(),
		start:  start,
		req:    req,
		state:  StateReceived,
		logger: o.logger.With(zap.String("request_id", id.String())),
	}
	t.decision.Score = math.NaN()

	var resp *models.TurnResponse
	err := func() error {
		if sink != nil {
			if err := sink.Begin(t.id); err != nil {
				return fmt.Errorf("%w: %v", errStreamAborted, err)
			}
		}
		var err error
		resp, err = o.run(ctx, t, sink)
		return err
	}()

	switch {
	case err == nil:
		metrics.ObserveTurn("delivered", start)
		o.record(ctx, t, id, "", "")
		t.logger.Info("Turn delivered",
			zap.String("reason", t.decision.Reason),
			zap.Duration("duration", time.Since(start)))
		return resp, nil

	case ctx.Err() != nil || errors.Is(err, errStreamAborted):
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		t.state = StateFailed
		metrics.ObserveTurn("canceled", start)
		o.record(ctx, t, id, "canceled", err.Error())
		t.logger.Info("Turn abandoned by caller", zap.Error(err))
		return nil, err

	default:
		code := errorCode(err)
		failedFrom := t.state
		t.state = StateFailed
		metrics.ObserveTurn(code, start)
		o.record(ctx, t, id, code, err.Error())
		t.logger.Error("Turn failed",
			zap.String("code", code),
			zap.String("state", string(failedFrom)),
			zap.Error(err))
		return degradedResponse(t, code), &TurnError{Code: code, Err: err}
	}
}

func (o *Orchestrator) run(ctx context.Context, t *turn, sink Sink) (*models.TurnResponse, error) {
	req := t.req

	// 1. Decide whether the previous context can be reused
	t.decision = o.decider.Decide(ctx, req)
	if err := t.advance(StateContextDecided); err != nil {
		return nil, err
	}

	// 2. Ground the turn
	if t.decision.Reuse {
		t.context = t.decision.Context
	} else {
		c, err := o.retriever.Retrieve(ctx, req.Question, req.TopK)
		if err != nil {
			return nil, err
		}
		t.context = &c
	}
	if err := t.advance(StateGrounded); err != nil {
		return nil, err
	}

	// 3. Merge history and generate
	history := MergeHistory(req.MessageHistory, req.Question, t.decision.Reuse)
	t.history = len(history)
	answer, err := o.answers.Generate(ctx, req.Question, t.context, history)
	if err != nil {
		return nil, err
	}
	t.answer = answer
	if err := t.advance(StateAnswered); err != nil {
		return nil, err
	}

	// 4. Stream the answer while suggestions are generated
	var suggestions []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		suggestions = o.suggestions.Suggest(gctx, req.Question, answer.Text, t.context)
		return nil
	})
	if sink != nil {
		g.Go(func() error {
			chunks := SplitChunks(answer.Text, o.cfg.ChunkRunes)
			if _, err := streamAnswer(gctx, sink, chunks, o.cfg.PacingInterval); err != nil {
				return fmt.Errorf("%w: %v", errStreamAborted, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.suggestions = len(suggestions)
	if err := t.advance(StateSuggested); err != nil {
		return nil, err
	}

	// 5. Assemble
	grounding := models.GroundingRetrieved
	if t.decision.Reuse {
		grounding = models.GroundingReused
	}
	resp := &models.TurnResponse{
		RequestID:             t.id,
		Success:               true,
		Answer:                answer.Text,
		WasContextValidOldKey: t.decision.Reuse,
		Context:               t.context,
		Suggestions:           suggestions,
		Grounding:             grounding,
		ConfidenceScore:       answer.Confidence,
		ProcessingTimeMs:      time.Since(t.start).Milliseconds(),
	}
	if err := t.advance(StateDelivered); err != nil {
		return nil, err
	}
	return resp, nil
}

var publicErrorMessages = map[string]string{
	CodeRetrievalUnavailable:  "The document search backend is unavailable.",
	CodeGenerationUnavailable: "The answer generation backend is unavailable.",
	CodeGenerationEmpty:       "The answer generation backend returned an empty answer.",
	CodeInternal:              "An internal error occurred.",
}

func degradedResponse(t *turn, code string) *models.TurnResponse {
	return &models.TurnResponse{
		RequestID:        t.id,
		Success:          false,
		Answer:           DegradedAnswer,
		Suggestions:      []string{},
		ProcessingTimeMs: time.Since(t.start).Milliseconds(),
		Error:            &models.TurnError{Code: code, Message: publicErrorMessages[code]},
	}
}

func (o *Orchestrator) record(ctx context.Context, t *turn, id uuid.UUID, code, message string) {
	score := t.decision.Score
	if math.IsNaN(score) {
		score = 0
	}
	entry := &models.TurnLog{
		ID:               id,
		Question:         t.req.Question,
		IsFollowUp:       t.req.IsFollowUp,
		ContextReused:    t.decision.Reuse,
		DecisionReason:   t.decision.Reason,
		RelevanceScore:   score,
		HistoryLength:    t.history,
		AnswerChars:      len([]rune(t.answer.Text)),
		FinalState:       string(t.state),
		ErrorCode:        code,
		ErrorMessage:     message,
		ProcessingTimeMs: time.Since(t.start).Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}
	if subject, ok := auth.GetSubjectFromContext(ctx); ok {
		entry.Subject = subject
	}
	if t.context != nil {
		entry.CleanedQuery = t.context.Query
		entry.PassageIDs = t.context.PassageIDs()
	}
	if t.state == StateDelivered {
		entry.SuggestionCount = t.suggestions
	}
	o.recorder.Record(ctx, entry)
}
