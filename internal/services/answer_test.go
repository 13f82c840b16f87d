package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"searchchat-backend/internal/llm"
	"searchchat-backend/internal/models"
	"searchchat-backend/internal/tokens"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		want       string
		confidence float64
	}{
		{"json object", `{"answer": "Refunds take **14 days**.", "confidence_score": 0.8}`, "Refunds take **14 days**.", 0.8},
		{"fenced json", "```json\n{\"answer\": \"Yes.\", \"confidence_score\": 0.4}\n```", "Yes.", 0.4},
		{"confidence clamped", `{"answer": "Yes.", "confidence_score": 7}`, "Yes.", 1},
		{"missing confidence", `{"answer": "Yes."}`, "Yes.", 0},
		{"plain text", "  Refunds take 14 days.  ", "Refunds take 14 days.", 0},
		{"json without answer is verbatim", `{"text": "x"}`, `{"text": "x"}`, 0},
		{"json array is verbatim", `["a"]`, `["a"]`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseAnswer(tt.raw)
			assert.Equal(t, tt.want, got.Text)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
		})
	}
}

func TestRenderGrounding(t *testing.T) {
	assert.Equal(t, "No relevant context found.", RenderGrounding(nil, 3000))

	out := RenderGrounding([]models.Passage{
		{ID: "p1", Text: "  Refunds take 14 days.  ", Score: 0.8234, Metadata: map[string]string{
			"DOC_REF_ID":        "DOC-7",
			"DOC_TITLE":         "Refund Policy",
			"PRESENTATION_LINK": "https://drive.example/refunds",
		}},
		{ID: "p2", Text: strings.Repeat("x", 20), Score: 0.5},
	}, 10)

	parts := strings.Split(out, "\n\n---\n\n")
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[0], "[METADATA]\n  DOC_REF_ID: DOC-7\n  SCORE: 0.823\n  DOC_TITLE: Refund Policy\n"))
	assert.Contains(t, parts[0], "  PRESENTATION_LINK: https://drive.example/refunds\n")
	assert.Contains(t, parts[0], "  TAGS: N/A\n")
	assert.True(t, strings.HasSuffix(parts[0], "[/METADATA]\nRefunds ta"+truncationMarker))
	assert.Contains(t, parts[1], "DOC_REF_ID: p2\n", "falls back to the passage id")
	assert.True(t, strings.HasSuffix(parts[1], "xxxxxxxxxx"+truncationMarker))
}

func TestTruncateText_RuneSafe(t *testing.T) {
	assert.Equal(t, "héllo", truncateText("héllo", 5))
	assert.Equal(t, "hé"+truncationMarker, truncateText("héllo", 2))
	assert.Equal(t, "abc", truncateText("abc", 0))
}

type slowCompleter struct{}

func (slowCompleter) Complete(ctx context.Context, _ llm.Request) (llm.Completion, error) {
	<-ctx.Done()
	return llm.Completion{}, ctx.Err()
}

func TestAnswerGenerator_TimeoutIsUnavailable(t *testing.T) {
	g := NewAnswerGenerator(slowCompleter{}, tokens.Approx{}, AnswerConfig{Timeout: 10 * time.Millisecond}, zaptest.NewLogger(t))
	_, err := g.Generate(context.Background(), "q", &models.Context{Passages: refundPassages}, nil)
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
}

func TestAnswerGenerator_PromptCarriesGroundingAndQuestion(t *testing.T) {
	c := newFakeCompleter()
	g := NewAnswerGenerator(c, tokens.Approx{}, AnswerConfig{MaxPassageChars: 3000}, zaptest.NewLogger(t))

	_, err := g.Generate(context.Background(), "What is the refund policy?", &models.Context{Passages: refundPassages}, nil)
	require.NoError(t, err)

	answers, _ := c.requests()
	require.Len(t, answers, 1)
	assert.Contains(t, answers[0].System, refundPassages[0].Text)
	assert.Contains(t, answers[0].System, "DOC_TITLE: Refund Policy")
	require.Len(t, answers[0].Messages, 1, "question appended when history is empty")
	assert.Equal(t, "What is the refund policy?", answers[0].Messages[0].Content)

	c.answerErr = errors.New("boom")
	_, err = g.Generate(context.Background(), "q", nil, nil)
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	answers, _ = c.requests()
	assert.Contains(t, answers[1].System, "No relevant context found.")
}
