package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"searchchat-backend/internal/metrics"
)

// OpenAIConfig configures a Completer for any OpenAI compatible chat endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
	MaxRetries  int
}

type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
}

var _ Completer = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(o.cfg.Model),
		Temperature: openai.Float(o.cfg.Temperature),
	}
	if o.cfg.TopP > 0 {
		params.TopP = openai.Float(o.cfg.TopP)
	}
	maxTokens := o.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	metrics.ObserveBackend("generation", "complete", start, err)
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, ErrNoChoices
	}
	return Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Ping lists the endpoint's models to confirm it is reachable and the key is accepted.
func (o *OpenAI) Ping(ctx context.Context) error {
	start := time.Now()
	_, err := o.client.Models.List(ctx, option.WithMaxRetries(0))
	metrics.ObserveBackend("generation", "ping", start, err)
	if err != nil {
		return fmt.Errorf("list models failed: %w", err)
	}
	return nil
}
