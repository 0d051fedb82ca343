package flow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/generator"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/project"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/runner"
)

// ArtifactSaver persists generated and corrected artifacts.
type ArtifactSaver interface {
	SaveArtifact(ctx context.Context, rec *models.ArtifactRecord) error
}

// GeneratorDriver runs a session against the generator, the file layout and
// the subprocess runner.
type GeneratorDriver struct {
	Generator *generator.Generator
	Runner    *runner.Runner
	Layout    project.Layout
	Writer    project.Writer
	Artifacts ArtifactSaver
	Logger    *slog.Logger

	mu    sync.Mutex
	files map[string]*targetFiles
}

// targetFiles is what the driver remembers between steps for one target.
type targetFiles struct {
	source    string
	component string
	testPath  string
	testCode  string
	output    string
}

func (d *GeneratorDriver) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *GeneratorDriver) writer() project.Writer {
	if d.Writer == nil {
		return project.FileWriter{}
	}
	return d.Writer
}

func (d *GeneratorDriver) lookup(target string) (targetFiles, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[target]
	if !ok {
		return targetFiles{}, false
	}
	return *f, true
}

func (d *GeneratorDriver) update(target string, fn func(*targetFiles)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.files == nil {
		d.files = make(map[string]*targetFiles)
	}
	f, ok := d.files[target]
	if !ok {
		f = &targetFiles{}
		d.files[target] = f
	}
	fn(f)
}

// Generate writes the first spec for target.
func (d *GeneratorDriver) Generate(ctx context.Context, s *Session, target string) {
	data, err := os.ReadFile(target)
	if err != nil {
		s.TargetFailed(target, fmt.Errorf("read source: %w", err))
		return
	}
	res, err := d.Generator.Generate(ctx, generator.GenerateRequest{FilePath: target, Source: string(data)})
	if err != nil {
		s.TargetFailed(target, err)
		return
	}
	testPath, err := d.Layout.TestPath(target)
	if err != nil {
		s.TargetFailed(target, err)
		return
	}
	if err := d.writer().Write(testPath, res.Artifact.TestCode); err != nil {
		s.TargetFailed(target, err)
		return
	}
	d.update(target, func(f *targetFiles) {
		f.source = string(data)
		f.component = res.Descriptor.Name
		f.testPath = testPath
		f.testCode = res.Artifact.TestCode
	})
	d.save(ctx, target, testPath, models.ArtifactGenerated, res.Artifact)
	d.logger().Debug("flow spec written", "session", s.ID, "target", target, "test", testPath)
	s.TestGenerated(target)
}

// Execute runs the target's spec file.
func (d *GeneratorDriver) Execute(ctx context.Context, s *Session, target string) {
	f, ok := d.lookup(target)
	if !ok {
		s.TargetFailed(target, fmt.Errorf("no spec written for %s", target))
		return
	}
	res, err := d.Runner.ExecuteOne(ctx, runner.OneRequest{TestFilePath: f.testPath})
	if err != nil {
		s.TargetFailed(target, err)
		return
	}
	if res.Interrupted() {
		s.TargetFailed(target, fmt.Errorf("execution %s", res.Reason))
		return
	}
	d.update(target, func(f *targetFiles) { f.output = res.Output })
	s.TestExecutionCompleted(target, res.Status())
}

// Fix asks for a corrected spec from the last runner output and rewrites it.
func (d *GeneratorDriver) Fix(ctx context.Context, s *Session, target string) {
	f, ok := d.lookup(target)
	if !ok {
		s.TargetFailed(target, fmt.Errorf("no spec written for %s", target))
		return
	}
	res, err := d.Generator.Fix(ctx, generator.FixRequest{
		ComponentCode: f.source,
		TestCode:      f.testCode,
		ErrorMessage:  f.output,
		ComponentName: f.component,
		FilePath:      f.testPath,
	})
	if err != nil {
		s.TargetFailed(target, err)
		return
	}
	if err := d.writer().Write(f.testPath, res.Artifact.TestCode); err != nil {
		s.TargetFailed(target, err)
		return
	}
	d.update(target, func(f *targetFiles) { f.testCode = res.Artifact.TestCode })
	d.save(ctx, target, f.testPath, models.ArtifactFixed, res.Artifact)
	d.logger().Debug("flow spec corrected", "session", s.ID, "target", target,
		"added", res.Diff.Added, "removed", res.Diff.Removed)
	s.TestFixed(target)
}

func (d *GeneratorDriver) save(ctx context.Context, source, testPath, kind string, art *models.UnitTestArtifact) {
	if d.Artifacts == nil {
		return
	}
	rec := &models.ArtifactRecord{SourcePath: source, TestPath: testPath, Kind: kind, Artifact: *art}
	if err := d.Artifacts.SaveArtifact(ctx, rec); err != nil {
		d.logger().Warn("save artifact", "source", source, "error", err)
	}
}
