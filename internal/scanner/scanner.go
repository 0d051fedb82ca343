// Package scanner walks a project directory and extracts component
// descriptors from TypeScript sources using line-scoped pattern matching.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// Default exclusions for dependency and build output directories.
var defaultDirExcludes = []string{
	"**/node_modules/**",
	"**/dist/**",
	"**/build/**",
	"**/coverage/**",
	"**/.angular/**",
	"**/.git/**",
}

// Options controls candidate selection for a scan.
type Options struct {
	IncludeTestFiles bool     `json:"includeTestFiles"`
	IncludeSpecFiles bool     `json:"includeSpecFiles"`
	Recursive        bool     `json:"recursive"`
	Extensions       []string `json:"fileExtensions"`
	Exclude          []string `json:"excludePatterns"`
	RespectGitignore bool     `json:"respectGitignore"`
}

// DefaultOptions returns a recursive .ts scan honouring .gitignore.
func DefaultOptions() Options {
	return Options{
		Recursive:        true,
		Extensions:       []string{".ts"},
		RespectGitignore: true,
	}
}

// excludes returns the effective exclude globs for opts.
func (o Options) excludes() []string {
	out := append([]string{}, defaultDirExcludes...)
	for _, ext := range o.extensions() {
		if !o.IncludeSpecFiles {
			out = append(out, "**/*.spec"+ext)
		}
		if !o.IncludeTestFiles {
			out = append(out, "**/*.test"+ext)
		}
	}
	return append(out, o.Exclude...)
}

func (o Options) extensions() []string {
	if len(o.Extensions) == 0 {
		return []string{".ts"}
	}
	out := make([]string, 0, len(o.Extensions))
	for _, ext := range o.Extensions {
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

// includes returns one glob per extension.
func (o Options) includes() []string {
	var out []string
	for _, ext := range o.extensions() {
		if o.Recursive {
			out = append(out, "**/*"+ext)
		} else {
			out = append(out, "*"+ext)
		}
	}
	return out
}

// Scanner finds component files and extracts their structure.
type Scanner struct {
	extractor StructuralExtractor
	cache     *Cache
	bus       *events.Bus
	logger    *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithExtractor substitutes the structural extractor.
func WithExtractor(e StructuralExtractor) Option { return func(s *Scanner) { s.extractor = e } }

// WithCache stores descriptors from every scan in c.
func WithCache(c *Cache) Option { return func(s *Scanner) { s.cache = c } }

// WithEvents publishes scan progress on bus.
func WithEvents(bus *events.Bus) Option { return func(s *Scanner) { s.bus = bus } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scanner) { s.logger = l } }

// New creates a Scanner using the line extractor by default.
func New(opts ...Option) *Scanner {
	s := &Scanner{extractor: LineExtractor{}}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Extractor returns the configured structural extractor.
func (s *Scanner) Extractor() StructuralExtractor { return s.extractor }

// Cache returns the descriptor cache, which may be nil.
func (s *Scanner) Cache() *Cache { return s.cache }

// ScanProgress is the payload of scan-progress events.
type ScanProgress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	File    string `json:"file"`
}

// Scan walks rootDir and returns a result. It never returns an error: a
// missing or invalid root yields a single error entry.
func (s *Scanner) Scan(ctx context.Context, rootDir string, opts Options) *models.ScanResult {
	start := time.Now()
	result := &models.ScanResult{}
	s.bus.Emit(events.ScanStarted, rootDir, map[string]any{"directoryPath": rootDir})

	finish := func() *models.ScanResult {
		result.ScanTime = time.Since(start)
		result.ScanTimeMs = result.ScanTime.Milliseconds()
		s.logger.Debug("scan finished", "root", rootDir, "components", len(result.Descriptors),
			"files", result.ScannedFiles, "errors", len(result.Errors), "elapsed", result.ScanTime)
		s.bus.Emit(events.ScanCompleted, rootDir, result)
		return result
	}

	info, err := os.Stat(rootDir)
	if err != nil || !info.IsDir() {
		msg := fmt.Sprintf("directory does not exist: %s", rootDir)
		if err == nil {
			msg = fmt.Sprintf("not a directory: %s", rootDir)
		}
		result.Errors = append(result.Errors, models.ScanError{Path: rootDir, Message: msg})
		s.bus.Emit(events.ScanError, rootDir, map[string]any{"error": msg})
		result.ScanTime = time.Since(start)
		result.ScanTimeMs = result.ScanTime.Milliseconds()
		return result
	}

	files, err := s.candidates(rootDir, opts)
	if err != nil {
		result.Errors = append(result.Errors, models.ScanError{Path: rootDir, Message: err.Error()})
	}
	result.TotalFiles = len(files)

	for i, path := range files {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, models.ScanError{Path: rootDir, Message: ctx.Err().Error()})
			break
		}
		s.bus.Emit(events.ScanProgress, rootDir, ScanProgress{Current: i + 1, Total: len(files), File: displayPath(rootDir, path)})

		s.cache.Forget(path)
		data, err := os.ReadFile(path)
		if err != nil {
			result.Errors = append(result.Errors, models.ScanError{Path: path, Message: err.Error()})
			continue
		}
		result.ScannedFiles++

		d, ok := s.extractor.Extract(path, string(data))
		if !ok || IsLibraryArtifact(d) {
			continue
		}
		s.cache.Put(d)
		result.Descriptors = append(result.Descriptors, d)
	}

	return finish()
}

// candidates walks root and returns absolute paths matching the include globs
// and none of the excludes.
func (s *Scanner) candidates(root string, opts Options) ([]string, error) {
	includes := opts.includes()
	excludes := opts.excludes()

	var gi *ignore.GitIgnore
	if opts.RespectGitignore {
		if g, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
			gi = g
		}
	}

	var files []string
	seen := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subdirectories are skipped rather than failing the scan.
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if !opts.Recursive || dirExcluded(rel, excludes) || (gi != nil && gi.MatchesPath(rel+"/")) {
				return fs.SkipDir
			}
			return nil
		}
		if !matchAny(includes, rel) || matchAny(excludes, rel) {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	if err != nil {
		return files, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// dirExcluded reports whether a directory is covered by a "<pattern>/**"
// exclusion, so the walk can skip it entirely.
func dirExcluded(rel string, excludes []string) bool {
	for _, p := range excludes {
		if !strings.HasSuffix(p, "/**") {
			continue
		}
		if ok, _ := doublestar.Match(strings.TrimSuffix(p, "/**"), rel); ok {
			return true
		}
	}
	return false
}
