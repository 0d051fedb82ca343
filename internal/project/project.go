// Package project resolves test-project roots and maps source files to the
// spec files generated for them.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultManifest marks the directory the test CLI must be invoked from.
const DefaultManifest = "package.json"

// ErrNoManifest is returned when no ancestor directory contains the manifest.
var ErrNoManifest = errors.New("project manifest not found")

// FindRoot walks upward from start (a file or directory) and returns the first
// directory containing manifest.
func FindRoot(start, manifest string) (string, error) {
	if manifest == "" {
		manifest = DefaultManifest
	}
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		abs = filepath.Dir(abs)
	} else if err != nil {
		// Non-existent paths (a spec file not yet written) still resolve from
		// their parent directory.
		abs = filepath.Dir(abs)
	}

	dir := abs
	for {
		if _, err := os.Stat(filepath.Join(dir, manifest)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %s above %s", ErrNoManifest, manifest, start)
		}
		dir = parent
	}
}

// packageManifest is the subset of package.json used for framework detection.
type packageManifest struct {
	Name            string            `json:"name"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Framework names recognised by DetectFramework.
const (
	FrameworkJest   = "jest"
	FrameworkVitest = "vitest"
	FrameworkKarma  = "karma"
)

// DetectFramework inspects package.json at root and returns the test framework
// it depends on, or "" when none is recognised.
func DetectFramework(root string) string {
	data, err := os.ReadFile(filepath.Join(root, DefaultManifest))
	if err != nil {
		return ""
	}
	var pm packageManifest
	if err := json.Unmarshal(data, &pm); err != nil {
		return ""
	}
	has := func(name string) bool {
		_, a := pm.Dependencies[name]
		_, b := pm.DevDependencies[name]
		return a || b
	}
	switch {
	case has("jest") || has("jest-preset-angular"):
		return FrameworkJest
	case has("vitest"):
		return FrameworkVitest
	case has("karma"):
		return FrameworkKarma
	}
	if strings.Contains(pm.Scripts["test"], "jest") {
		return FrameworkJest
	}
	return ""
}

// CommandFor returns the default CLI invocation for a framework: the command,
// the args placed before a single test file, and the args for a suite run.
func CommandFor(framework string) (command string, fileArgs, suiteArgs []string) {
	switch framework {
	case FrameworkVitest:
		return "npx", []string{"vitest", "run"}, []string{"vitest", "run"}
	case FrameworkKarma:
		return "npx", []string{"ng", "test", "--watch=false", "--include"}, []string{"ng", "test", "--watch=false"}
	default:
		return "npx", []string{"jest", "--runTestsByPath"}, []string{"jest", "--passWithNoTests"}
	}
}
