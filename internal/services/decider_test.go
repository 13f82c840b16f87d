package services

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"searchchat-backend/internal/models"
)

func TestDecider_Decide(t *testing.T) {
	retriever := newFakeRetriever(t)
	valid, err := retriever.Retrieve(context.Background(), "What is the refund policy?", 3)
	if err != nil {
		t.Fatal(err)
	}
	invalid := valid
	invalid.ValidityKey = "v1:00"
	empty := models.Context{Query: "q"}
	empty.ValidityKey = retriever.keyer.Key(empty.Query, nil)

	tests := []struct {
		name       string
		req        models.TurnRequest
		score      float64
		scoreErr   error
		wantReuse  bool
		wantReason string
		scored     bool
	}{
		{"not a follow-up", models.TurnRequest{Question: "q", PreviousContext: &valid}, 0.99, nil, false, ReasonNotFollowUp, false},
		{"no previous context", models.TurnRequest{Question: "q", IsFollowUp: true}, 0.99, nil, false, ReasonNoPrevious, false},
		{"empty context", models.TurnRequest{Question: "q", IsFollowUp: true, PreviousContext: &empty}, 0.99, nil, false, ReasonEmptyContext, false},
		{"invalid key", models.TurnRequest{Question: "q", IsFollowUp: true, PreviousContext: &invalid}, 0.99, nil, false, ReasonInvalidKey, false},
		{"scorer error", models.TurnRequest{Question: "q", IsFollowUp: true, PreviousContext: &valid}, 0, errors.New("embedder down"), false, ReasonRelevanceError, true},
		{"clearly relevant", models.TurnRequest{Question: "q", IsFollowUp: true, PreviousContext: &valid}, 0.8, nil, true, ReasonRelevant, true},
		{"at threshold plus margin", models.TurnRequest{Question: "q", IsFollowUp: true, PreviousContext: &valid}, 0.61, nil, true, ReasonRelevant, true},
		{"just above threshold is ambiguous", models.TurnRequest{Question: "q", IsFollowUp: true, PreviousContext: &valid}, 0.57, nil, false, ReasonAmbiguous, true},
		{"just below threshold is ambiguous", models.TurnRequest{Question: "q", IsFollowUp: true, PreviousContext: &valid}, 0.52, nil, false, ReasonAmbiguous, true},
		{"unrelated", models.TurnRequest{Question: "q", IsFollowUp: true, PreviousContext: &valid}, 0.2, nil, false, ReasonUnrelated, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &fakeScorer{score: tt.score, err: tt.scoreErr}
			d := NewDecider(retriever, scorer, 0.55, 0.05, zaptest.NewLogger(t))

			dec := d.Decide(context.Background(), &tt.req)

			assert.Equal(t, tt.wantReuse, dec.Reuse)
			assert.Equal(t, tt.wantReason, dec.Reason)
			assert.Equal(t, tt.scored, scorer.calls == 1)
			if tt.wantReuse {
				assert.Same(t, tt.req.PreviousContext, dec.Context)
			} else {
				assert.Nil(t, dec.Context)
			}
			if !tt.scored || tt.scoreErr != nil {
				assert.True(t, math.IsNaN(dec.Score))
			}
		})
	}
}
