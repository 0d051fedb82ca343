package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// maxBodyBytes caps how much of an upstream body is read.
const maxBodyBytes = 8 << 20

// TokenProvider calls a gateway that authenticates with a client-credentials
// bearer token. The token is fetched on first use, reused until 30 seconds
// before it expires and then re-fetched synchronously by the next call.
type TokenProvider struct {
	http   *http.Client
	cfg    Config
	logger *slog.Logger
}

// fetchSource retrieves a fresh token on every call; the reuse wrapper
// around it owns caching.
type fetchSource struct {
	ctx context.Context
	cfg *clientcredentials.Config
}

func (s fetchSource) Token() (*oauth2.Token, error) { return s.cfg.Token(s.ctx) }

// NewToken requires the token URL, client credentials and one call URL.
func NewToken(cfg Config) (*TokenProvider, error) {
	t := cfg.Token
	for _, req := range []struct{ key, val string }{
		{"token.token_url", t.TokenURL},
		{"token.client_id", t.ClientID},
		{"token.client_secret", t.ClientSecret},
	} {
		if req.val == "" {
			return nil, &ConfigError{Backend: KindToken, Key: req.key}
		}
	}
	if t.ChatURL == "" && t.AgentURL == "" {
		return nil, &ConfigError{Backend: KindToken, Key: "token.chat_url", Reason: "or token.agent_url is required"}
	}

	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	cc := &clientcredentials.Config{
		ClientID:     t.ClientID,
		ClientSecret: t.ClientSecret,
		TokenURL:     t.TokenURL,
		Scopes:       t.Scopes,
	}
	src := oauth2.ReuseTokenSourceWithExpiry(nil, fetchSource{ctx: ctx, cfg: cc}, tokenExpiryMargin)

	return &TokenProvider{http: oauth2.NewClient(ctx, src), cfg: cfg, logger: cfg.logger()}, nil
}

// Shape reports which downstream call shape is in use.
func (p *TokenProvider) Shape() string {
	if p.cfg.Token.ChatURL != "" {
		return "chat"
	}
	return "agent"
}

func (p *TokenProvider) CallChat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	req = applyDefaults(req, p.cfg, p.cfg.Model)
	p.logger.Debug("calling chat backend", "backend", KindToken, "shape", p.Shape(), "model", req.Model)

	if p.cfg.Token.ChatURL != "" {
		var resp models.ChatResponse
		if err := p.post(ctx, p.cfg.Token.ChatURL, req, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	}

	var reply agentReply
	if err := p.post(ctx, p.cfg.Token.AgentURL, agentRequest{Prompt: flatten(req.Messages), Model: req.Model}, &reply); err != nil {
		return nil, err
	}
	return &models.ChatResponse{
		Choices: []models.ChatChoice{{
			Message:      models.ChatMessage{Role: models.RoleAssistant, Content: reply.text()},
			FinishReason: "stop",
		}},
	}, nil
}

func (p *TokenProvider) TestConnection(ctx context.Context) bool {
	return ping(ctx, p, p.logger)
}

func (p *TokenProvider) post(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return mapError(KindToken, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", KindToken, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Backend: KindToken, Status: resp.StatusCode, Message: upstreamMessage(raw), Body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", KindToken, err)
	}
	return nil
}

type agentRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type agentFile struct {
	Content string `json:"content"`
	Code    string `json:"code"`
}

// agentReply accepts either an array of files or a single text field.
type agentReply struct {
	Files    []agentFile `json:"files"`
	Text     string      `json:"text"`
	Output   string      `json:"output"`
	Response string      `json:"response"`
}

func (r agentReply) text() string {
	if len(r.Files) > 0 {
		parts := make([]string, 0, len(r.Files))
		for _, f := range r.Files {
			c := f.Content
			if c == "" {
				c = f.Code
			}
			if c != "" {
				parts = append(parts, c)
			}
		}
		return strings.Join(parts, "\n\n")
	}
	for _, s := range []string{r.Text, r.Output, r.Response} {
		if s != "" {
			return s
		}
	}
	return ""
}

// flatten joins the conversation into the single prompt agent endpoints take.
func flatten(msgs []models.ChatMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// upstreamMessage pulls error.message or message out of a JSON error body.
func upstreamMessage(body []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &env) != nil {
		return ""
	}
	if env.Message != "" {
		return env.Message
	}
	var nested struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(env.Error, &nested) == nil && nested.Message != "" {
		return nested.Message
	}
	var s string
	if json.Unmarshal(env.Error, &s) == nil {
		return s
	}
	return ""
}
