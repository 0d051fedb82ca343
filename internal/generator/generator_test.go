package generator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/scanner"
)

const componentSrc = `@Component({ selector: 'app-hello', standalone: true, template: '' })
export class HelloComponent {
  greet(): string {
    return 'hi';
  }
}
`

// scriptedChat returns canned replies and records prompts.
type scriptedChat struct {
	mu      sync.Mutex
	reply   func(req models.ChatRequest) (string, error)
	prompts []string
}

func (s *scriptedChat) CallChat(_ context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, req.Messages[len(req.Messages)-1].Content)
	s.mu.Unlock()
	text, err := s.reply(req)
	if err != nil {
		return nil, err
	}
	return &models.ChatResponse{Choices: []models.ChatChoice{{Message: models.ChatMessage{Role: models.RoleAssistant, Content: text}}}}, nil
}

func canonical(string) (string, error) {
	return `{"testCode":"describe('HelloComponent', () => {\n  it('greets', () => {});\n});","explanation":"covers greet","testCases":["greets"]}`, nil
}

func writeComponent(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(componentSrc), 0o644))
	return path
}

func TestGenerate(t *testing.T) {
	chat := &scriptedChat{reply: func(models.ChatRequest) (string, error) { return canonical("") }}
	bus := events.NewBus()
	ch := bus.Subscribe("test")
	g := New(chat, WithEvents(bus))

	path := writeComponent(t, t.TempDir(), "hello.component.ts")
	res, err := g.Generate(context.Background(), GenerateRequest{FilePath: path})
	require.NoError(t, err)

	assert.Equal(t, "HelloComponent", res.Descriptor.Name)
	assert.Equal(t, "covers greet", res.Artifact.Explanation)
	assert.Equal(t, []string{"greets"}, res.Artifact.TestCases)
	require.Len(t, chat.prompts, 1)
	assert.Contains(t, chat.prompts[0], "- Name: HelloComponent")
	assert.Contains(t, chat.prompts[0], "- Methods: greet")

	ev := <-ch
	assert.Equal(t, events.TestGenerated, ev.Type)
	assert.Equal(t, path, ev.Key)
}

func TestGenerate_UsesCachedDescriptor(t *testing.T) {
	chat := &scriptedChat{reply: func(models.ChatRequest) (string, error) { return canonical("") }}
	cache, err := scanner.NewCache(4)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "x.component.ts")
	cache.Put(&models.ComponentDescriptor{Name: "CachedComponent", FilePath: path})

	g := New(chat, WithCache(cache))
	res, err := g.Generate(context.Background(), GenerateRequest{FilePath: path, Source: componentSrc})
	require.NoError(t, err)
	assert.Equal(t, "CachedComponent", res.Descriptor.Name)
}

func TestGenerate_RefusesTestFiles(t *testing.T) {
	chat := &scriptedChat{reply: func(models.ChatRequest) (string, error) { return canonical("") }}
	g := New(chat)
	for _, name := range []string{"a.component.spec.ts", "a.test.ts"} {
		_, err := g.Generate(context.Background(), GenerateRequest{FilePath: name, Source: componentSrc})
		assert.ErrorIs(t, err, ErrTestFile)
	}
	assert.Empty(t, chat.prompts)
}

func TestGenerate_GatewayError(t *testing.T) {
	chat := &scriptedChat{reply: func(models.ChatRequest) (string, error) { return "", errors.New("status 500") }}
	_, err := New(chat).Generate(context.Background(), GenerateRequest{FilePath: "a.component.ts", Source: componentSrc})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestGenerateBatch_PerItemErrors(t *testing.T) {
	chat := &scriptedChat{reply: func(models.ChatRequest) (string, error) { return canonical("") }}
	bus := events.NewBus()
	ch := bus.Subscribe("test")
	g := New(chat, WithEvents(bus))

	dir := t.TempDir()
	files := []string{
		writeComponent(t, dir, "a.component.ts"),
		filepath.Join(dir, "missing.component.ts"),
		writeComponent(t, dir, "b.component.spec.ts"),
		writeComponent(t, dir, "c.component.ts"),
	}
	results := g.GenerateBatch(context.Background(), files, 2)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.NotNil(t, results[0].Artifact)
	assert.Error(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, ErrTestFile)
	assert.NoError(t, results[3].Err)
	for i, r := range results {
		assert.Equal(t, files[i], r.FilePath)
	}

	var progress, completed int
	for len(ch) > 0 {
		switch (<-ch).Type {
		case events.GenerationProgress:
			progress++
		case events.GenerationCompleted:
			completed++
		}
	}
	assert.Equal(t, 4, progress)
	assert.Equal(t, 1, completed)
}

func TestFix(t *testing.T) {
	before := "describe('a', () => {\n  it('b', () => {\n    expect(1).toBe(2);\n  });\n});\n"
	chat := &scriptedChat{reply: func(models.ChatRequest) (string, error) {
		return `{"testCode":"describe('a', () => {\n  it('b', () => {\n    expect(1).toBe(1);\n  });\n});\n","explanation":"fixed the expectation"}`, nil
	}}
	bus := events.NewBus()
	ch := bus.Subscribe("test")
	g := New(chat, WithEvents(bus))

	res, err := g.Fix(context.Background(), FixRequest{
		ComponentCode: componentSrc,
		TestCode:      before,
		ErrorMessage:  "Expected 1 to be 2",
		ComponentName: "AComponent",
		FilePath:      "a.component.ts",
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed the expectation", res.Artifact.Explanation)
	assert.Equal(t, DiffStats{Added: 1, Removed: 1}, res.Diff)
	assert.True(t, strings.HasPrefix(res.Patch, "@@"))

	require.Len(t, chat.prompts, 1)
	assert.Contains(t, chat.prompts[0], "Expected 1 to be 2")
	assert.Contains(t, chat.prompts[0], "Component: AComponent")

	assert.Equal(t, events.FixStarted, (<-ch).Type)
	assert.Equal(t, events.TestFixed, (<-ch).Type)
}

func TestFix_Errors(t *testing.T) {
	chat := &scriptedChat{reply: func(models.ChatRequest) (string, error) { return "", errors.New("boom") }}
	bus := events.NewBus()
	ch := bus.Subscribe("test")
	g := New(chat, WithEvents(bus))

	_, err := g.Fix(context.Background(), FixRequest{FilePath: "a.ts"})
	require.Error(t, err)

	_, err = g.Fix(context.Background(), FixRequest{FilePath: "a.ts", TestCode: "x"})
	require.Error(t, err)
	assert.Equal(t, events.FixStarted, (<-ch).Type)
	assert.Equal(t, events.FixError, (<-ch).Type)
}

func TestDiff(t *testing.T) {
	stats, patch := diff("a\nb\n", "a\nb\n")
	assert.Equal(t, DiffStats{}, stats)
	assert.Empty(t, patch)

	stats, _ = diff("a\n", "a\nb\nc\n")
	assert.Equal(t, DiffStats{Added: 2}, stats)
}
