package provider

import (
	"context"
	"log/slog"
	"math"

	"github.com/sashabaranov/go-openai"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// OpenAIProvider talks to OpenAI or any API that mimics it.
type OpenAIProvider struct {
	client *openai.Client
	cfg    Config
	model  string
	logger *slog.Logger
}

// NewOpenAI requires openai.api_key.
func NewOpenAI(cfg Config) (*OpenAIProvider, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, &ConfigError{Backend: KindOpenAI, Key: "openai.api_key"}
	}
	oc := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		oc.BaseURL = cfg.OpenAI.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		model:  model,
		logger: cfg.logger(),
	}, nil
}

func (p *OpenAIProvider) CallChat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	req = applyDefaults(req, p.cfg, p.model)
	p.logger.Debug("calling chat backend", "backend", KindOpenAI, "model", req.Model, "messages", len(req.Messages))

	resp, err := p.client.CreateChatCompletion(ctx, toOpenAIRequest(req))
	if err != nil {
		return nil, mapError(KindOpenAI, err)
	}
	out := fromOpenAIResponse(resp)
	if len(out.Choices) > 0 {
		p.logger.Debug("chat backend replied", "backend", KindOpenAI, "finish_reason", out.Choices[0].FinishReason)
	}
	return out, nil
}

func (p *OpenAIProvider) TestConnection(ctx context.Context) bool {
	return ping(ctx, p, p.logger)
}

func toOpenAIRequest(req models.ChatRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	out := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
		// A zero value is dropped from the JSON body; send the smallest
		// positive float instead so the request is deterministic.
		if out.Temperature == 0 {
			out.Temperature = math.SmallestNonzeroFloat32
		}
	}
	return out
}

func fromOpenAIResponse(resp openai.ChatCompletionResponse) *models.ChatResponse {
	out := &models.ChatResponse{
		Usage: models.ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, models.ChatChoice{
			Message:      models.ChatMessage{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: string(c.FinishReason),
		})
	}
	return out
}
