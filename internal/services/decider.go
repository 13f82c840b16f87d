package services

import (
	"context"
	"math"

	"go.uber.org/zap"

	"searchchat-backend/internal/metrics"
	"searchchat-backend/internal/models"
	"searchchat-backend/internal/relevance"
)

// Reasons recorded for a context decision.
const (
	ReasonNotFollowUp    = "not_follow_up"
	ReasonNoPrevious     = "no_previous_context"
	ReasonEmptyContext   = "empty_context"
	ReasonInvalidKey     = "invalid_key"
	ReasonRelevanceError = "relevance_error"
	ReasonRelevant       = "relevant"
	ReasonAmbiguous      = "ambiguous"
	ReasonUnrelated      = "unrelated"
)

// ContextValidator checks a caller supplied context's validity key.
type ContextValidator interface {
	Validate(c *models.Context) bool
}

// Decision is the outcome of the reuse check.
type Decision struct {
	Reuse   bool
	Context *models.Context // set only when Reuse is true
	Reason  string
	Score   float64 // relevance score, NaN when not computed
}

// Decider chooses between reusing the caller's previous context and retrieving anew.
type Decider struct {
	validator ContextValidator
	scorer    relevance.Scorer
	threshold float64
	margin    float64
	logger    *zap.Logger
}

func NewDecider(v ContextValidator, s relevance.Scorer, threshold, margin float64, logger *zap.Logger) *Decider {
	return &Decider{
		validator: v,
		scorer:    s,
		threshold: threshold,
		margin:    margin,
		logger:    logger.Named("decider"),
	}
}

// Decide never fails: any doubt resolves to re-retrieval.
func (d *Decider) Decide(ctx context.Context, req *models.TurnRequest) Decision {
	dec := d.decide(ctx, req)
	metrics.IncDecision(dec.Reason)
	return dec
}

func (d *Decider) decide(ctx context.Context, req *models.TurnRequest) Decision {
	noScore := math.NaN()
	prev := req.PreviousContext
	switch {
	case !req.IsFollowUp:
		return Decision{Reason: ReasonNotFollowUp, Score: noScore}
	case prev == nil:
		return Decision{Reason: ReasonNoPrevious, Score: noScore}
	case len(prev.Passages) == 0:
		return Decision{Reason: ReasonEmptyContext, Score: noScore}
	case !d.validator.Validate(prev):
		d.logger.Info("Decide: previous context failed validation")
		return Decision{Reason: ReasonInvalidKey, Score: noScore}
	}

	score, err := d.scorer.Score(ctx, req.Question, prev)
	if err != nil {
		d.logger.Warn("Decide: relevance scoring failed, re-retrieving", zap.Error(err))
		return Decision{Reason: ReasonRelevanceError, Score: noScore}
	}

	switch {
	case score >= d.threshold+d.margin:
		return Decision{Reuse: true, Context: prev, Reason: ReasonRelevant, Score: score}
	case math.Abs(score-d.threshold) < d.margin:
		return Decision{Reason: ReasonAmbiguous, Score: score}
	default:
		return Decision{Reason: ReasonUnrelated, Score: score}
	}
}
