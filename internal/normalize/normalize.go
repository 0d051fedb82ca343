// Package normalize recovers a canonical test artifact from free-form LLM
// output through an ordered cascade of recovery stages.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/prompt"
)

// Chatter is the chat capability used by the secondary stage.
type Chatter interface {
	CallChat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
}

// Stage is one recovery strategy. Apply returns a confident artifact with a
// nil error, a partial artifact with a *ParseError, or nil with a *ParseError.
type Stage struct {
	Name  string
	Apply func(ctx context.Context, in *Input) (*models.UnitTestArtifact, error)
}

// LocalStages are the stages that need no network. The secondary pass runs
// its reply through these only.
func LocalStages() []Stage {
	return []Stage{
		{Name: StageFenced, Apply: local(fencedStage)},
		{Name: StageBareCode, Apply: local(bareCodeStage)},
		{Name: StageJSON, Apply: local(jsonStage)},
		{Name: StageShapes, Apply: local(shapesStage)},
	}
}

func local(f func(*Input) (*models.UnitTestArtifact, error)) func(context.Context, *Input) (*models.UnitTestArtifact, error) {
	return func(_ context.Context, in *Input) (*models.UnitTestArtifact, error) { return f(in) }
}

// Normalizer runs the cascade.
type Normalizer struct {
	chat      Chatter
	model     string
	maxTokens int
	logger    *slog.Logger
	local     []Stage
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithChat enables the secondary LLM stage.
func WithChat(c Chatter) Option { return func(n *Normalizer) { n.chat = c } }

// WithModel sets the model requested by the secondary stage.
func WithModel(model string) Option { return func(n *Normalizer) { n.model = model } }

// WithMaxTokens caps the secondary stage reply.
func WithMaxTokens(max int) Option { return func(n *Normalizer) { n.maxTokens = max } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(n *Normalizer) { n.logger = l } }

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{local: LocalStages(), maxTokens: 4096}
	for _, o := range opts {
		o(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

// Cascade returns the full ordered stage list, ending with the fallback
// unless strict is set.
func (n *Normalizer) Cascade(strict bool) []Stage {
	stages := append([]Stage{}, n.local...)
	stages = append(stages, Stage{Name: StageSecondary, Apply: n.secondary})
	if !strict {
		stages = append(stages, Stage{Name: StageFallback, Apply: fallbackStage})
	}
	return stages
}

// Normalize converts raw into an artifact. It fails only on blank input;
// unrecoverable text comes back as a fallback artifact.
func (n *Normalizer) Normalize(ctx context.Context, raw string) (*models.UnitTestArtifact, error) {
	return n.normalize(ctx, raw, false)
}

// NormalizeStrict is Normalize without the fallback stage. The last
// *ParseError is returned when nothing confident is recovered.
func (n *Normalizer) NormalizeStrict(ctx context.Context, raw string) (*models.UnitTestArtifact, error) {
	return n.normalize(ctx, raw, true)
}

func (n *Normalizer) normalize(ctx context.Context, raw string, strict bool) (*models.UnitTestArtifact, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyResponse
	}
	in := newInput(raw)
	art, stage, err := run(ctx, n.Cascade(strict), in)
	if err != nil {
		return nil, err
	}
	n.logger.Debug("response normalized", "stage", stage, "code_len", len(art.TestCode))
	return finish(art), nil
}

// run applies stages in order and returns the first confident artifact. The
// first partial artifact seen is kept on the input for the fallback stage.
func run(ctx context.Context, stages []Stage, in *Input) (*models.UnitTestArtifact, string, error) {
	var last error
	for _, s := range stages {
		art, err := s.Apply(ctx, in)
		if err == nil && art != nil && art.TestCode != "" && art.Explanation != "" {
			return art, s.Name, nil
		}
		if art != nil && art.TestCode != "" && in.partial == nil {
			in.partial = art
		}
		if err != nil {
			last = err
		}
	}
	if last == nil {
		last = parseErr(StageFallback, CauseNoCandidate, nil)
	}
	return nil, "", last
}

// secondary asks the chat backend to rewrite the response as canonical JSON
// and runs the reply through the local stages once.
func (n *Normalizer) secondary(ctx context.Context, in *Input) (*models.UnitTestArtifact, error) {
	if n.chat == nil {
		return nil, nil
	}
	system, user := prompt.Normalize(in.raw)
	resp, err := n.chat.CallChat(ctx, models.ChatRequest{
		Model: n.model,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: system},
			{Role: models.RoleUser, Content: user},
		},
		Temperature: models.Temperature(0),
		MaxTokens:   n.maxTokens,
	})
	if err != nil {
		n.logger.Warn("secondary normalization failed", "error", err)
		return nil, parseErr(StageSecondary, CauseNoCandidate, fmt.Errorf("call chat: %w", err))
	}
	reply := resp.Text()
	if strings.TrimSpace(reply) == "" {
		return nil, parseErr(StageSecondary, CauseNoCandidate, ErrEmptyResponse)
	}

	sub := newInput(reply)
	art, _, err := run(ctx, n.local, sub)
	if err != nil {
		if sub.partial != nil {
			return sub.partial, err
		}
		var pe *ParseError
		if errors.As(err, &pe) {
			return nil, parseErr(StageSecondary, pe.Cause, err)
		}
		return nil, err
	}
	return art, nil
}

// fallbackStage returns the best partial artifact, or the raw text.
func fallbackStage(_ context.Context, in *Input) (*models.UnitTestArtifact, error) {
	if p := in.partial; p != nil {
		art := *p
		art.Explanation = PartialExplanation
		if art.TestCases == nil {
			art.TestCases = []string{}
		}
		return &art, nil
	}
	return &models.UnitTestArtifact{
		TestCode:    strings.TrimSpace(in.raw),
		Explanation: FallbackExplanation,
		TestCases:   []string{},
	}, nil
}

// finish applies the post-processing passes to the test code.
func finish(art *models.UnitTestArtifact) *models.UnitTestArtifact {
	out := *art
	out.TestCode = RepairBraces(Unescape(out.TestCode))
	if out.TestCases == nil {
		out.TestCases = []string{}
	}
	if out.Dependencies == nil {
		out.Dependencies = []string{}
	}
	return &out
}
