// Package generator turns component sources into spec files and corrects
// failing specs: prompt, chat call, normalization.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/normalize"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/project"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/prompt"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/scanner"
)

// DefaultConcurrency bounds GenerateBatch when the caller passes zero.
const DefaultConcurrency = 4

// ErrTestFile is returned when a test or spec file is submitted as input.
var ErrTestFile = errors.New("test files cannot be used as generation input")

// Generator wires the chat backend, the normalizer and the extractor.
type Generator struct {
	chat       normalize.Chatter
	normalizer *normalize.Normalizer
	extractor  scanner.StructuralExtractor
	cache      *scanner.Cache
	bus        *events.Bus
	framework  string
	model      string
	logger     *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithNormalizer substitutes the normalizer.
func WithNormalizer(n *normalize.Normalizer) Option { return func(g *Generator) { g.normalizer = n } }

// WithExtractor substitutes the structural extractor.
func WithExtractor(e scanner.StructuralExtractor) Option { return func(g *Generator) { g.extractor = e } }

// WithCache reuses descriptors from a previous scan.
func WithCache(c *scanner.Cache) Option { return func(g *Generator) { g.cache = c } }

// WithEvents publishes generation and fix events on bus.
func WithEvents(bus *events.Bus) Option { return func(g *Generator) { g.bus = bus } }

// WithFramework names the test framework prompts target.
func WithFramework(f string) Option { return func(g *Generator) { g.framework = f } }

// WithModel sets the model requested from the chat backend.
func WithModel(m string) Option { return func(g *Generator) { g.model = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(g *Generator) { g.logger = l } }

// New creates a Generator. The default normalizer uses chat for its
// secondary pass.
func New(chat normalize.Chatter, opts ...Option) *Generator {
	g := &Generator{chat: chat, extractor: scanner.LineExtractor{}}
	for _, o := range opts {
		o(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.normalizer == nil {
		g.normalizer = normalize.New(normalize.WithChat(chat), normalize.WithModel(g.model), normalize.WithLogger(g.logger))
	}
	return g
}

// GenerateRequest names one source file. Source is read from disk when empty.
type GenerateRequest struct {
	FilePath string
	Source   string
}

// GenerateResult is the outcome for one file. Err is set per item in batches.
type GenerateResult struct {
	FilePath   string                      `json:"filePath"`
	Descriptor *models.ComponentDescriptor `json:"component,omitempty"`
	Artifact   *models.UnitTestArtifact    `json:"artifact,omitempty"`
	Err        error                       `json:"-"`
	Error      string                      `json:"error,omitempty"`
}

// Generate produces a spec artifact for one component.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if project.IsTestFile(req.FilePath) {
		return nil, fmt.Errorf("%w: %s", ErrTestFile, req.FilePath)
	}
	src := req.Source
	if src == "" {
		data, err := os.ReadFile(req.FilePath)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		src = string(data)
	}

	d, ok := g.cache.Get(req.FilePath)
	if !ok {
		d = g.extractor.Describe(req.FilePath, src)
	}

	system, user := prompt.Generate(d, src, g.framework)
	art, err := g.complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", req.FilePath, err)
	}

	g.logger.Debug("test generated", "file", req.FilePath, "component", d.Name, "cases", len(art.TestCases))
	res := &GenerateResult{FilePath: req.FilePath, Descriptor: d, Artifact: art}
	g.bus.Emit(events.TestGenerated, req.FilePath, res)
	return res, nil
}

// BatchProgress is the payload of generation progress events.
type BatchProgress struct {
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	FilePath string `json:"filePath"`
	Error    string `json:"error,omitempty"`
}

// GenerateBatch generates for every file with at most concurrency calls in
// flight. One file failing does not stop the others; results keep the input
// order.
func (g *Generator) GenerateBatch(ctx context.Context, files []string, concurrency int) []GenerateResult {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	results := make([]GenerateResult, len(files))
	g.bus.Emit(events.GenerationStarted, "", map[string]any{"files": files, "total": len(files)})

	var done atomic.Int32
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, file := range files {
		eg.Go(func() error {
			res, err := g.Generate(ctx, GenerateRequest{FilePath: file})
			if err != nil {
				res = &GenerateResult{FilePath: file, Err: err, Error: err.Error()}
				g.bus.Emit(events.GenerationError, file, map[string]any{"filePath": file, "error": err.Error()})
			}
			results[i] = *res
			g.bus.Emit(events.GenerationProgress, file, BatchProgress{
				Current: int(done.Add(1)), Total: len(files), FilePath: file, Error: res.Error,
			})
			// Per-item failures are reported in results, never through the group.
			return nil
		})
	}
	_ = eg.Wait()

	g.bus.Emit(events.GenerationCompleted, "", results)
	return results
}

// complete runs one chat call and normalizes the reply.
func (g *Generator) complete(ctx context.Context, system, user string) (*models.UnitTestArtifact, error) {
	if g.chat == nil {
		return nil, errors.New("no chat backend configured")
	}
	resp, err := g.chat.CallChat(ctx, models.ChatRequest{
		Model: g.model,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: system},
			{Role: models.RoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("call chat: %w", err)
	}
	art, err := g.normalizer.Normalize(ctx, resp.Text())
	if err != nil {
		return nil, fmt.Errorf("normalize response: %w", err)
	}
	return art, nil
}
