package provider

import (
	"context"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	api    *anthropic.Client
	cfg    Config
	model  string
	logger *slog.Logger
}

// NewAnthropic requires anthropic.api_key.
func NewAnthropic(cfg Config) (*AnthropicProvider, error) {
	if cfg.Anthropic.APIKey == "" {
		return nil, &ConfigError{Backend: KindAnthropic, Key: "anthropic.api_key"}
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.Anthropic.APIKey), option.WithMaxRetries(0)}
	if cfg.Anthropic.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicProvider{api: &client, cfg: cfg, model: model, logger: cfg.logger()}, nil
}

func (p *AnthropicProvider) CallChat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	req = applyDefaults(req, p.cfg, p.model)
	p.logger.Debug("calling chat backend", "backend", KindAnthropic, "model", req.Model, "messages", len(req.Messages))

	msg, err := p.api.Messages.New(ctx, toAnthropicParams(req))
	if err != nil {
		return nil, mapError(KindAnthropic, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	p.logger.Debug("chat backend replied", "backend", KindAnthropic, "stop_reason", msg.StopReason)

	return &models.ChatResponse{
		Choices: []models.ChatChoice{{
			Message:      models.ChatMessage{Role: models.RoleAssistant, Content: text.String()},
			FinishReason: string(msg.StopReason),
		}},
		Usage: models.ChatUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

func (p *AnthropicProvider) TestConnection(ctx context.Context) bool {
	return ping(ctx, p, p.logger)
}

// toAnthropicParams folds system messages into the System field.
func toAnthropicParams(req models.ChatRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case models.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}
