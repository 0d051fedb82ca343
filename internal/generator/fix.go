package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/prompt"
)

// FixRequest carries the correction-path inputs.
type FixRequest struct {
	ComponentCode string `json:"componentCode"`
	TestCode      string `json:"testCode"`
	ErrorMessage  string `json:"errorMessage"`
	ComponentName string `json:"componentName"`
	FilePath      string `json:"filePath"`
}

// DiffStats counts changed lines between the failing and corrected spec.
type DiffStats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// FixResult is a corrected artifact plus how it differs from the input.
type FixResult struct {
	FilePath string                   `json:"filePath"`
	Artifact *models.UnitTestArtifact `json:"artifact"`
	Diff     DiffStats                `json:"diff"`
	Patch    string                   `json:"patch"`
}

// Fix asks for a corrected spec given the runner failure output.
func (g *Generator) Fix(ctx context.Context, req FixRequest) (*FixResult, error) {
	if strings.TrimSpace(req.TestCode) == "" {
		return nil, fmt.Errorf("fix %s: test code is required", req.FilePath)
	}
	g.bus.Emit(events.FixStarted, req.FilePath, map[string]any{"filePath": req.FilePath, "componentName": req.ComponentName})

	system, user := prompt.Fix(req.ComponentName, req.ComponentCode, req.TestCode, req.ErrorMessage)
	art, err := g.complete(ctx, system, user)
	if err != nil {
		g.bus.Emit(events.FixError, req.FilePath, map[string]any{"filePath": req.FilePath, "error": err.Error()})
		return nil, fmt.Errorf("fix %s: %w", req.FilePath, err)
	}

	stats, patch := diff(req.TestCode, art.TestCode)
	res := &FixResult{FilePath: req.FilePath, Artifact: art, Diff: stats, Patch: patch}
	g.logger.Debug("test fixed", "file", req.FilePath, "added", stats.Added, "removed", stats.Removed)
	g.bus.Emit(events.TestFixed, req.FilePath, res)
	return res, nil
}

// diff returns line-level change counts and a patch from before to after.
func diff(before, after string) (DiffStats, string) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var stats DiffStats
	for _, d := range diffs {
		n := lineCount(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stats.Added += n
		case diffmatchpatch.DiffDelete:
			stats.Removed += n
		}
	}
	return stats, dmp.PatchToText(dmp.PatchMake(before, diffs))
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
