package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"searchchat-backend/internal/llm"
	"searchchat-backend/internal/metrics"
	"searchchat-backend/internal/models"
)

type SuggestionConfig struct {
	Max             int
	MaxPassageChars int
	Timeout         time.Duration
}

// SuggestionGenerator proposes follow-up questions answerable from the
// passages that grounded the current answer.
type SuggestionGenerator struct {
	llm    llm.Completer
	cfg    SuggestionConfig
	logger *zap.Logger
}

func NewSuggestionGenerator(c llm.Completer, cfg SuggestionConfig, logger *zap.Logger) *SuggestionGenerator {
	return &SuggestionGenerator{llm: c, cfg: cfg, logger: logger.Named("suggestions")}
}

// Suggest never fails. Any error yields an empty list.
func (g *SuggestionGenerator) Suggest(ctx context.Context, question, answer string, grounding *models.Context) []string {
	out, err := g.suggest(ctx, question, answer, grounding)
	if err != nil {
		metrics.IncSuggestionFailure()
		g.logger.Warn("Suggest: returning no suggestions", zap.Error(err))
		return []string{}
	}
	metrics.ObserveSuggestions(len(out))
	return out
}

func (g *SuggestionGenerator) suggest(ctx context.Context, question, answer string, grounding *models.Context) ([]string, error) {
	if g.cfg.Max <= 0 || grounding == nil || len(grounding.Passages) == 0 {
		return []string{}, nil
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	completion, err := g.llm.Complete(ctx, llm.Request{
		System: suggestionSystemPrompt(g.cfg.Max),
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: suggestionUserPrompt(question, answer, RenderGrounding(grounding.Passages, g.cfg.MaxPassageChars)),
		}},
		MaxTokens: 300,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSuggestionFailure, err)
	}
	return parseSuggestions(completion.Text, question, g.cfg.Max)
}

var errNoSuggestionList = errors.New("reply has no suggestion list")

// parseSuggestions accepts {"suggestions": [...]} or a bare JSON array.
func parseSuggestions(raw, question string, limit int) ([]string, error) {
	body := stripCodeFence(raw)
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: %w", ErrSuggestionFailure, errNoSuggestionList)
	}
	list := gjson.Parse(body)
	if !list.IsArray() {
		list = list.Get("suggestions")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: %w", ErrSuggestionFailure, errNoSuggestionList)
	}

	asked := normalizeSuggestion(question)
	seen := make(map[string]bool)
	out := make([]string, 0, limit)
	for _, item := range list.Array() {
		if len(out) == limit {
			break
		}
		if item.Type != gjson.String {
			continue
		}
		s := strings.TrimSpace(item.String())
		key := normalizeSuggestion(s)
		if key == "" || key == asked || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out, nil
}

func normalizeSuggestion(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, "?!. ")
}
