// Package mcp exposes scanning, generation, execution, correction and
// normalization as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/generator"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/normalize"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/project"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/runner"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/scanner"
)

// Deps are the services behind the tools.
type Deps struct {
	Scanner    *scanner.Scanner
	Generator  *generator.Generator
	Runner     *runner.Runner
	Normalizer *normalize.Normalizer
	Layout     project.Layout
	Writer     project.Writer
	Version    string
}

// Server exposes Deps as MCP tools.
type Server struct {
	Deps
}

// NewServer creates the MCP server wrapper.
func NewServer(d Deps) *Server {
	if d.Writer == nil {
		d.Writer = project.FileWriter{}
	}
	if d.Normalizer == nil {
		d.Normalizer = normalize.New()
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	return &Server{Deps: d}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("autotest", s.Version, server.WithToolCapabilities(true))
	srv.AddTool(s.scanTool())
	srv.AddTool(s.generateTool())
	srv.AddTool(s.runTestTool())
	srv.AddTool(s.fixTestTool())
	srv.AddTool(s.normalizeTool())
	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.NewStdioServer(s.MCPServer()).Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// autotest_scan
func (s *Server) scanTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autotest_scan",
		mcp.WithDescription("Scan a directory for Angular components. Returns name, selector, file path, methods and dependencies for each, plus per-file errors."),
		mcp.WithString("directory", mcp.Required(), mcp.Description("Directory to scan")),
		mcp.WithBoolean("recursive", mcp.Description("Descend into subdirectories (default true)")),
		mcp.WithBoolean("include_spec", mcp.Description("Include .spec files in the walk")),
	)
	return tool, s.handleScan
}

func (s *Server) handleScan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := request.RequireString("directory")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: directory"), nil
	}
	opts := scanner.DefaultOptions()
	opts.Recursive = request.GetBool("recursive", true)
	opts.IncludeSpecFiles = request.GetBool("include_spec", false)

	res := s.Scanner.Scan(ctx, dir, opts)

	type componentOut struct {
		Name         string   `json:"name"`
		Selector     string   `json:"selector,omitempty"`
		FilePath     string   `json:"filePath"`
		Methods      []string `json:"methods"`
		Dependencies []string `json:"dependencies"`
	}
	out := struct {
		Components []componentOut `json:"components"`
		Scanned    int            `json:"scannedFiles"`
		Errors     []string       `json:"errors,omitempty"`
	}{Components: []componentOut{}, Scanned: res.ScannedFiles}
	for _, d := range res.Descriptors {
		out.Components = append(out.Components, componentOut{
			Name: d.Name, Selector: d.Selector, FilePath: d.FilePath,
			Methods: d.Methods, Dependencies: d.Dependencies,
		})
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, e.Path+": "+e.Message)
	}
	if len(res.Descriptors) == 0 && len(res.Errors) > 0 && res.TotalFiles == 0 {
		return mcp.NewToolResultError(out.Errors[0]), nil
	}
	return jsonResult(out)
}

// autotest_generate
func (s *Server) generateTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autotest_generate",
		mcp.WithDescription("Generate a unit test for one component file. Optionally writes the spec next to the source (or under the configured test root)."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Component source file")),
		mcp.WithBoolean("write", mcp.Description("Write the spec file (default false)")),
	)
	return tool, s.handleGenerate
}

func (s *Server) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := request.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: file"), nil
	}
	res, err := s.Generator.Generate(ctx, generator.GenerateRequest{FilePath: file})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out := map[string]any{"component": res.Descriptor.Name, "artifact": res.Artifact}
	if request.GetBool("write", false) {
		path, err := s.Layout.TestPath(file)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.Writer.Write(path, res.Artifact.TestCode); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out["testPath"] = path
	}
	return jsonResult(out)
}

// autotest_run_test
func (s *Server) runTestTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autotest_run_test",
		mcp.WithDescription("Run one spec file, or the whole suite when file is \"all\". Returns success, exit code and combined output."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Spec file path, or \"all\"")),
		mcp.WithString("project", mcp.Description("Project directory for suite runs (default: current directory)")),
	)
	return tool, s.handleRunTest
}

func (s *Server) handleRunTest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := request.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: file"), nil
	}
	if file == runner.AllKey {
		dir := request.GetString("project", ".")
		res, err := s.Runner.ExecuteAll(ctx, runner.AllRequest{ProjectPath: dir})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	}
	res, err := s.Runner.ExecuteOne(ctx, runner.OneRequest{TestFilePath: file})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// autotest_fix_test
func (s *Server) fixTestTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autotest_fix_test",
		mcp.WithDescription("Correct a failing spec from its runner output. When error_message is empty the spec is run first to capture it. The corrected spec is written back unless write is false."),
		mcp.WithString("component_file", mcp.Required(), mcp.Description("Component source file")),
		mcp.WithString("test_file", mcp.Required(), mcp.Description("Failing spec file")),
		mcp.WithString("error_message", mcp.Description("Runner output for the failure")),
		mcp.WithBoolean("write", mcp.Description("Write the corrected spec (default true)")),
	)
	return tool, s.handleFixTest
}

func (s *Server) handleFixTest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	componentFile, err := request.RequireString("component_file")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: component_file"), nil
	}
	testFile, err := request.RequireString("test_file")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: test_file"), nil
	}
	component, err := os.ReadFile(componentFile)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read component: %v", err)), nil
	}
	spec, err := os.ReadFile(testFile)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read spec: %v", err)), nil
	}

	msg := request.GetString("error_message", "")
	if msg == "" {
		res, err := s.Runner.ExecuteOne(ctx, runner.OneRequest{TestFilePath: testFile})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if res.Success {
			return jsonResult(map[string]any{"fixed": false, "reason": "spec already passes"})
		}
		msg = res.Output
	}

	d := s.Scanner.Extractor().Describe(componentFile, string(component))
	fix, err := s.Generator.Fix(ctx, generator.FixRequest{
		ComponentCode: string(component),
		TestCode:      string(spec),
		ErrorMessage:  msg,
		ComponentName: d.Name,
		FilePath:      testFile,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if request.GetBool("write", true) {
		if err := s.Writer.Write(testFile, fix.Artifact.TestCode); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	return jsonResult(map[string]any{"fixed": true, "artifact": fix.Artifact, "diff": fix.Diff, "patch": fix.Patch})
}

// autotest_normalize
func (s *Server) normalizeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autotest_normalize",
		mcp.WithDescription("Normalize a raw LLM reply into {testCode, explanation, testCases, dependencies, setupInstructions}. strict disables the raw-text fallback."),
		mcp.WithString("raw", mcp.Required(), mcp.Description("Raw model reply")),
		mcp.WithBoolean("strict", mcp.Description("Fail instead of falling back to the raw text")),
	)
	return tool, s.handleNormalize
}

func (s *Server) handleNormalize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("raw")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: raw"), nil
	}
	normalizeFn := s.Normalizer.Normalize
	if request.GetBool("strict", false) {
		normalizeFn = s.Normalizer.NormalizeStrict
	}
	art, err := normalizeFn(ctx, raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(art)
}
