// Package provider exposes a uniform chat-completion capability with
// interchangeable backends: direct API-key vendors and an OAuth
// client-credentials gateway.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// Backend kinds.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindToken     = "token"
)

// Defaults applied when a request leaves a field unset.
const (
	DefaultMaxTokens      = 4096
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-haiku-4-5-20251001"

	pingTimeout       = 15 * time.Second
	tokenExpiryMargin = 30 * time.Second
)

// ChatCapability is what the rest of the program depends on.
type ChatCapability interface {
	CallChat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
	TestConnection(ctx context.Context) bool
}

// OpenAIConfig holds direct-key settings for OpenAI-compatible APIs.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// AnthropicConfig holds direct-key settings for Anthropic.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

// TokenConfig holds client-credentials settings. Exactly one of ChatURL or
// AgentURL selects the call shape; ChatURL wins when both are set.
type TokenConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	ChatURL      string
	AgentURL     string
}

// Config selects and configures one backend.
type Config struct {
	Kind              string
	Model             string
	Temperature       *float64
	MaxTokens         int
	RequestsPerMinute int

	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Token     TokenConfig

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// New builds the configured backend, rate limited when RequestsPerMinute is
// positive.
func New(cfg Config) (ChatCapability, error) {
	var (
		p   ChatCapability
		err error
	)
	switch cfg.Kind {
	case KindOpenAI, "":
		p, err = NewOpenAI(cfg)
	case KindAnthropic:
		p, err = NewAnthropic(cfg)
	case KindToken:
		p, err = NewToken(cfg)
	default:
		return nil, &ConfigError{Backend: cfg.Kind, Key: "provider.kind", Reason: fmt.Sprintf("must be one of %s, %s, %s", KindOpenAI, KindAnthropic, KindToken)}
	}
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute > 0 {
		p = NewLimited(p, cfg.RequestsPerMinute)
	}
	return p, nil
}

// applyDefaults fills model, temperature and max tokens from cfg.
func applyDefaults(req models.ChatRequest, cfg Config, model string) models.ChatRequest {
	if req.Model == "" {
		req.Model = model
	}
	if req.Temperature == nil {
		req.Temperature = cfg.Temperature
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	return req
}

// ping sends a minimal request and reports whether it succeeded.
func ping(ctx context.Context, p ChatCapability, logger *slog.Logger) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := p.CallChat(ctx, models.ChatRequest{
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: "ping"}},
		MaxTokens: 5,
	})
	if err != nil {
		logger.Warn("connection test failed", "error", err)
		return false
	}
	return true
}

// Limited throttles calls to the wrapped capability.
type Limited struct {
	next    ChatCapability
	limiter *rate.Limiter
}

// NewLimited allows perMinute calls per minute with a burst of one.
func NewLimited(next ChatCapability, perMinute int) *Limited {
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (l *Limited) CallChat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limit: %w", err)
	}
	return l.next.CallChat(ctx, req)
}

func (l *Limited) TestConnection(ctx context.Context) bool {
	if err := l.limiter.Wait(ctx); err != nil {
		return false
	}
	return l.next.TestConnection(ctx)
}
