package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/flow"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/generator"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/normalize"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/project"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/provider"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/runner"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/scanner"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/store"
)

const descriptorCacheSize = 512

// services bundles the wired components a command needs.
type services struct {
	bus        *events.Bus
	cache      *scanner.Cache
	scanner    *scanner.Scanner
	chat       provider.ChatCapability
	normalizer *normalize.Normalizer
	generator  *generator.Generator
	runner     *runner.Runner
	layout     project.Layout
	writer     project.Writer
	store      store.Store
	flow       *flow.Orchestrator
}

// serviceOpts selects the optional parts of the graph.
type serviceOpts struct {
	chat    bool // build the LLM gateway, generator and flow
	history bool // record runs and artifacts in the store
}

// buildServices wires the component graph from viper config.
func buildServices(opts serviceOpts) (*services, error) {
	s := &services{bus: events.NewBus(events.WithLogger(logger)), writer: project.FileWriter{}}

	cache, err := scanner.NewCache(descriptorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create descriptor cache: %w", err)
	}
	s.cache = cache
	s.scanner = scanner.New(scanner.WithCache(cache), scanner.WithEvents(s.bus), scanner.WithLogger(logger))

	if opts.history {
		s.store = optionalStore()
	}

	s.layout = layoutFromConfig()

	runOpts := []runner.Option{runner.WithEvents(s.bus), runner.WithLogger(logger)}
	if s.store != nil {
		runOpts = append(runOpts, runner.WithRecorder(s.store))
	}
	s.runner = runner.New(runnerConfig(), runOpts...)

	if !opts.chat {
		s.normalizer = normalize.New(normalize.WithLogger(logger))
		return s, nil
	}

	chat, err := provider.New(providerConfig())
	if err != nil {
		return nil, err
	}
	s.chat = chat
	model := viper.GetString("provider.model")
	s.normalizer = normalize.New(
		normalize.WithChat(chat),
		normalize.WithModel(model),
		normalize.WithMaxTokens(viper.GetInt("provider.max_tokens")),
		normalize.WithLogger(logger),
	)
	s.generator = generator.New(chat,
		generator.WithNormalizer(s.normalizer),
		generator.WithCache(cache),
		generator.WithEvents(s.bus),
		generator.WithFramework(viper.GetString("project.framework")),
		generator.WithModel(model),
		generator.WithLogger(logger),
	)

	driver := &flow.GeneratorDriver{
		Generator: s.generator,
		Runner:    s.runner,
		Layout:    s.layout,
		Writer:    s.writer,
		Logger:    logger,
	}
	if s.store != nil {
		driver.Artifacts = s.store
	}
	s.flow = flow.New(driver,
		flow.WithEvents(s.bus),
		flow.WithMaxFixAttempts(viper.GetInt("flow.max_fix_attempts")),
		flow.WithConcurrency(viper.GetInt("flow.concurrency")),
		flow.WithLogger(logger),
	)
	return s, nil
}

func providerConfig() provider.Config {
	cfg := provider.Config{
		Kind:              viper.GetString("provider.kind"),
		Model:             viper.GetString("provider.model"),
		MaxTokens:         viper.GetInt("provider.max_tokens"),
		RequestsPerMinute: viper.GetInt("provider.requests_per_minute"),
		OpenAI: provider.OpenAIConfig{
			APIKey:  firstNonEmpty(viper.GetString("openai.api_key"), os.Getenv("OPENAI_API_KEY")),
			BaseURL: viper.GetString("openai.base_url"),
		},
		Anthropic: provider.AnthropicConfig{
			APIKey:  firstNonEmpty(viper.GetString("anthropic.api_key"), os.Getenv("ANTHROPIC_API_KEY")),
			BaseURL: viper.GetString("anthropic.base_url"),
		},
		Token: provider.TokenConfig{
			TokenURL:     viper.GetString("token.token_url"),
			ClientID:     viper.GetString("token.client_id"),
			ClientSecret: viper.GetString("token.client_secret"),
			Scopes:       viper.GetStringSlice("token.scopes"),
			ChatURL:      viper.GetString("token.chat_url"),
			AgentURL:     viper.GetString("token.agent_url"),
		},
		Logger: logger,
	}
	if viper.IsSet("provider.temperature") {
		t := viper.GetFloat64("provider.temperature")
		cfg.Temperature = &t
	}
	return cfg
}

func runnerConfig() runner.Config {
	return runner.Config{
		Command:   viper.GetString("runner.command"),
		FileArgs:  viper.GetStringSlice("runner.file_args"),
		SuiteArgs: viper.GetStringSlice("runner.suite_args"),
		Manifest:  viper.GetString("runner.manifest"),
		Timeout:   viper.GetDuration("runner.timeout"),
	}
}

// layoutFromConfig resolves the spec layout. An unset source root mirrors the
// project root containing the working directory.
func layoutFromConfig() project.Layout {
	l := project.Layout{
		SourceRoot: viper.GetString("project.source_root"),
		TestRoot:   viper.GetString("project.test_root"),
		SpecSuffix: viper.GetString("project.spec_suffix"),
	}
	if l.SourceRoot == "" && l.TestRoot != "" {
		if wd, err := os.Getwd(); err == nil {
			if root, err := project.FindRoot(wd, viper.GetString("runner.manifest")); err == nil {
				l.SourceRoot = root
			}
		}
	}
	if l.TestRoot != "" && !filepath.IsAbs(l.TestRoot) {
		if abs, err := filepath.Abs(l.TestRoot); err == nil {
			l.TestRoot = abs
		}
	}
	return l
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
