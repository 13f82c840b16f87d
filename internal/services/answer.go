package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"searchchat-backend/internal/llm"
	"searchchat-backend/internal/models"
	"searchchat-backend/internal/tokens"
)

// Answer is a generated reply for one turn.
type Answer struct {
	Text       string
	Confidence float64
}

type AnswerConfig struct {
	MaxPassageChars    int
	Timeout            time.Duration
	HistoryTokenBudget int
}

// AnswerGenerator produces grounded answers with a single completion call.
type AnswerGenerator struct {
	llm     llm.Completer
	counter tokens.Counter
	cfg     AnswerConfig
	logger  *zap.Logger
}

func NewAnswerGenerator(c llm.Completer, counter tokens.Counter, cfg AnswerConfig, logger *zap.Logger) *AnswerGenerator {
	return &AnswerGenerator{llm: c, counter: counter, cfg: cfg, logger: logger.Named("answer")}
}

// Generate answers question from grounding. history is the effective transcript
// produced by MergeHistory and ends with the question.
func (g *AnswerGenerator) Generate(ctx context.Context, question string, grounding *models.Context, history []models.Message) (Answer, error) {
	if len(history) == 0 || history[len(history)-1].Content != question {
		history = MergeHistory(history, question, true)
	}
	history = TrimHistory(history, g.cfg.HistoryTokenBudget, g.counter)

	var passages []models.Passage
	if grounding != nil {
		passages = grounding.Passages
	}
	req := llm.Request{
		System:   answerSystemPrompt(RenderGrounding(passages, g.cfg.MaxPassageChars)),
		Messages: toLLMMessages(history),
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := g.llm.Complete(ctx, req)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
	g.logger.Debug("Generate: completion received",
		zap.Duration("duration", time.Since(start)),
		zap.Int("history_messages", len(history)),
		zap.Int64("prompt_tokens", completion.PromptTokens),
		zap.Int64("completion_tokens", completion.CompletionTokens))

	answer := parseAnswer(completion.Text)
	if answer.Text == "" {
		return Answer{}, ErrGenerationEmpty
	}
	return answer, nil
}

// parseAnswer reads {"answer", "confidence_score"} replies. Anything that is not
// such an object is used verbatim with zero confidence.
func parseAnswer(raw string) Answer {
	body := stripCodeFence(raw)
	if gjson.Valid(body) {
		res := gjson.Parse(body)
		if a := res.Get("answer"); res.IsObject() && a.Exists() {
			return Answer{
				Text:       strings.TrimSpace(a.String()),
				Confidence: clamp01(res.Get("confidence_score").Float()),
			}
		}
	}
	return Answer{Text: strings.TrimSpace(raw)}
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func toLLMMessages(history []models.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == models.RoleModel {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}
