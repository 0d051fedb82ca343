package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRoot_WalksUpward(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{}`), 0o644))
	nested := filepath.Join(root, "src", "app", "widgets")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	file := filepath.Join(nested, "w.component.spec.ts")
	require.NoError(t, os.WriteFile(file, []byte(""), 0o644))

	got, err := FindRoot(file, "")
	require.NoError(t, err)
	assert.Equal(t, root, got)

	got, err = FindRoot(nested, "package.json")
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestFindRoot_MissingFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{}`), 0o644))

	got, err := FindRoot(filepath.Join(root, "src", "not-yet.spec.ts"), "")
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestFindRoot_NotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := FindRoot(dir, "definitely-not-a-manifest-7f3a.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoManifest))
}

func TestDetectFramework(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     string
	}{
		{"jest dev dep", `{"devDependencies":{"jest":"^29"}}`, FrameworkJest},
		{"jest preset", `{"devDependencies":{"jest-preset-angular":"^14"}}`, FrameworkJest},
		{"vitest", `{"devDependencies":{"vitest":"^1"}}`, FrameworkVitest},
		{"karma", `{"devDependencies":{"karma":"^6"}}`, FrameworkKarma},
		{"script only", `{"scripts":{"test":"jest --ci"}}`, FrameworkJest},
		{"none", `{"dependencies":{"rxjs":"^7"}}`, ""},
		{"invalid", `{`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(tt.manifest), 0o644))
			assert.Equal(t, tt.want, DetectFramework(dir))
		})
	}
}

func TestIsTestFile(t *testing.T) {
	assert.True(t, IsTestFile("src/app/a.component.spec.ts"))
	assert.True(t, IsTestFile("a.test.ts"))
	assert.False(t, IsTestFile("src/app/a.component.ts"))
	assert.False(t, IsTestFile("spec.ts"))
}

func TestLayout_TestPath(t *testing.T) {
	src := t.TempDir()
	tests := t.TempDir()
	l := Layout{SourceRoot: src, TestRoot: tests}

	got, err := l.TestPath(filepath.Join(src, "app", "user", "user.component.ts"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tests, "app", "user", "user.component.spec.ts"), got)

	// Outside the source root: base name only.
	other := filepath.Join(t.TempDir(), "x.service.ts")
	got, err = l.TestPath(other)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tests, "x.service.spec.ts"), got)
}

func TestLayout_TestPathNextToSource(t *testing.T) {
	dir := t.TempDir()
	got, err := Layout{}.TestPath(filepath.Join(dir, "a.component.ts"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.component.spec.ts"), got)
}

func TestFileWriter_CreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deep", "nested", "a.spec.ts")

	require.NoError(t, FileWriter{}.Write(path, "describe('a', () => {});"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "describe('a', () => {});", string(data))
}

func TestCommandFor(t *testing.T) {
	cmd, fileArgs, suiteArgs := CommandFor(FrameworkJest)
	assert.Equal(t, "npx", cmd)
	assert.Equal(t, []string{"jest", "--runTestsByPath"}, fileArgs)
	assert.Contains(t, suiteArgs, "jest")

	cmd, fileArgs, _ = CommandFor("")
	assert.Equal(t, "npx", cmd)
	assert.Equal(t, "jest", fileArgs[0])
}
