package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/generator"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/runner"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/scanner"
)

const componentSrc = `@Component({ selector: 'app-hello', template: '' })
export class HelloComponent {
  greet(): string { return 'hi'; }
}
`

// replyChat answers generation prompts and fix prompts with different specs.
type replyChat struct {
	prompts []string
}

func (c *replyChat) CallChat(_ context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	last := req.Messages[len(req.Messages)-1].Content
	c.prompts = append(c.prompts, last)
	code := "describe('HelloComponent', () => {});"
	if strings.Contains(last, "## Runner output") {
		code = "describe('HelloComponent', () => { it('greets', () => {}); });"
	}
	text := `{"testCode":"` + code + `","explanation":"spec"}`
	return &models.ChatResponse{Choices: []models.ChatChoice{{Message: models.ChatMessage{Role: models.RoleAssistant, Content: text}}}}, nil
}

func newTestServer(t *testing.T) (*Server, *replyChat) {
	t.Helper()
	chat := &replyChat{}
	return NewServer(Deps{
		Scanner:   scanner.New(),
		Generator: generator.New(chat),
		Runner:    runner.New(runner.Config{}),
	}), chat
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target), "failed to parse result JSON: %s", text)
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHandleScan(t *testing.T) {
	srv, _ := newTestServer(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "hello.component.ts"), componentSrc)
	writeFile(t, filepath.Join(dir, "src", "hello.component.spec.ts"), "describe('x', () => {});")

	result, err := srv.handleScan(context.Background(), callToolReq("autotest_scan", map[string]any{"directory": dir}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Components []struct {
			Name    string   `json:"name"`
			Methods []string `json:"methods"`
		} `json:"components"`
		Scanned int `json:"scannedFiles"`
	}
	resultJSON(t, result, &out)
	require.Len(t, out.Components, 1)
	assert.Equal(t, "HelloComponent", out.Components[0].Name)
	assert.Equal(t, []string{"greet"}, out.Components[0].Methods)
	assert.Equal(t, 1, out.Scanned)
}

func TestHandleScan_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleScan(context.Background(), callToolReq("autotest_scan", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleScan(context.Background(), callToolReq("autotest_scan",
		map[string]any{"directory": filepath.Join(t.TempDir(), "missing")}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "directory does not exist")
}

func TestHandleGenerate(t *testing.T) {
	srv, chat := newTestServer(t)
	src := writeFile(t, filepath.Join(t.TempDir(), "hello.component.ts"), componentSrc)

	result, err := srv.handleGenerate(context.Background(), callToolReq("autotest_generate",
		map[string]any{"file": src, "write": true}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Component string                  `json:"component"`
		TestPath  string                  `json:"testPath"`
		Artifact  models.UnitTestArtifact `json:"artifact"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, "HelloComponent", out.Component)
	assert.Equal(t, "spec", out.Artifact.Explanation)
	require.Len(t, chat.prompts, 1)

	data, err := os.ReadFile(out.TestPath)
	require.NoError(t, err)
	assert.Equal(t, out.Artifact.TestCode, string(data))
}

func TestHandleGenerate_RefusesSpec(t *testing.T) {
	srv, chat := newTestServer(t)
	spec := writeFile(t, filepath.Join(t.TempDir(), "hello.component.spec.ts"), "describe('x', () => {});")

	result, err := srv.handleGenerate(context.Background(), callToolReq("autotest_generate", map[string]any{"file": spec}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, chat.prompts)
}

func TestHandleRunTest_NoManifest(t *testing.T) {
	srv, _ := newTestServer(t)
	spec := writeFile(t, filepath.Join(t.TempDir(), "a.spec.ts"), "describe('x', () => {});")

	result, err := srv.handleRunTest(context.Background(), callToolReq("autotest_run_test", map[string]any{"file": spec}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "package.json")

	result, err = srv.handleRunTest(context.Background(), callToolReq("autotest_run_test", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRunTest_All(t *testing.T) {
	srv, _ := newTestServer(t)
	result, err := srv.handleRunTest(context.Background(), callToolReq("autotest_run_test",
		map[string]any{"file": runner.AllKey, "project": t.TempDir()}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleFixTest(t *testing.T) {
	srv, chat := newTestServer(t)
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "hello.component.ts"), componentSrc)
	spec := writeFile(t, filepath.Join(dir, "hello.component.spec.ts"), "describe('HelloComponent', () => {});")

	result, err := srv.handleFixTest(context.Background(), callToolReq("autotest_fix_test", map[string]any{
		"component_file": src,
		"test_file":      spec,
		"error_message":  "Expected 1 to be 2",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Fixed bool                `json:"fixed"`
		Diff  generator.DiffStats `json:"diff"`
	}
	resultJSON(t, result, &out)
	assert.True(t, out.Fixed)
	assert.Equal(t, generator.DiffStats{Added: 1, Removed: 1}, out.Diff)

	require.Len(t, chat.prompts, 1)
	assert.Contains(t, chat.prompts[0], "Expected 1 to be 2")
	assert.Contains(t, chat.prompts[0], "HelloComponent")

	data, err := os.ReadFile(spec)
	require.NoError(t, err)
	assert.Contains(t, string(data), "it('greets'")
}

func TestHandleFixTest_MissingArgs(t *testing.T) {
	srv, _ := newTestServer(t)
	result, err := srv.handleFixTest(context.Background(), callToolReq("autotest_fix_test", map[string]any{"component_file": "a.ts"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "test_file")
}

func TestHandleNormalize(t *testing.T) {
	srv, _ := newTestServer(t)
	raw := "Sure! Here's your test:\n```ts\ndescribe('x', () => { it('y', () => { expect(1).toBe(1); }); });\n```"

	result, err := srv.handleNormalize(context.Background(), callToolReq("autotest_normalize", map[string]any{"raw": raw}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var art models.UnitTestArtifact
	resultJSON(t, result, &art)
	assert.Equal(t, "describe('x', () => { it('y', () => { expect(1).toBe(1); }); });", art.TestCode)
	assert.Equal(t, []string{}, art.TestCases)
}

func TestHandleNormalize_Strict(t *testing.T) {
	srv, _ := newTestServer(t)
	result, err := srv.handleNormalize(context.Background(), callToolReq("autotest_normalize",
		map[string]any{"raw": "no code here at all", "strict": true}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleNormalize(context.Background(), callToolReq("autotest_normalize",
		map[string]any{"raw": "no code here at all"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestMCPIntegration_ListTools(t *testing.T) {
	srv, _ := newTestServer(t)
	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv)

	reqJSON := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	respMsg := mcpSrv.HandleMessage(context.Background(), reqJSON)
	require.NotNil(t, respMsg)

	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	names := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		names[tool.Name] = true
	}
	for _, name := range []string{"autotest_scan", "autotest_generate", "autotest_run_test", "autotest_fix_test", "autotest_normalize"} {
		assert.True(t, names[name], "expected tool %q to be registered", name)
	}
}
