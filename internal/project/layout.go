package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSpecSuffix replaces a source file's extension in generated tests.
const DefaultSpecSuffix = ".spec"

// Layout maps source files under SourceRoot to spec files under TestRoot,
// mirroring the relative path.
type Layout struct {
	SourceRoot string
	TestRoot   string
	SpecSuffix string
}

// IsTestFile reports whether path follows the test/spec naming convention.
func IsTestFile(path string) bool {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return strings.HasSuffix(stem, ".spec") || strings.HasSuffix(stem, ".test")
}

// TestPath returns the spec path for source. Sources outside SourceRoot are
// placed by base name directly under TestRoot.
func (l Layout) TestPath(source string) (string, error) {
	suffix := l.SpecSuffix
	if suffix == "" {
		suffix = DefaultSpecSuffix
	}
	absSrc, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolve source: %w", err)
	}

	rel := filepath.Base(absSrc)
	if l.SourceRoot != "" {
		root, err := filepath.Abs(l.SourceRoot)
		if err != nil {
			return "", fmt.Errorf("resolve source root: %w", err)
		}
		if r, err := filepath.Rel(root, absSrc); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}

	ext := filepath.Ext(rel)
	rel = strings.TrimSuffix(rel, ext) + suffix + ext

	testRoot := l.TestRoot
	if testRoot == "" {
		testRoot = l.SourceRoot
	}
	if testRoot == "" {
		return filepath.Join(filepath.Dir(absSrc), filepath.Base(rel)), nil
	}
	return filepath.Join(testRoot, rel), nil
}

// Writer persists generated test files.
type Writer interface {
	Write(path, content string) error
}

// FileWriter writes to the local filesystem, creating parent directories.
type FileWriter struct{}

// Write ensures the parent directory exists, then writes content.
func (FileWriter) Write(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create test directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write test file: %w", err)
	}
	return nil
}
