//go:build !windows

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/store"
)

// shProject makes a project whose "test CLI" runs each spec as a shell script.
func shProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeSource(t, dir, "package.json", `{"name":"demo"}`)
	viper.Set("runner.command", "sh")
	viper.Set("runner.timeout", "30s")
	return dir
}

func TestTestRun_Passes(t *testing.T) {
	testEnv(t)
	dir := shProject(t)
	spec := writeSource(t, dir, "src/hello.component.spec.ts", "echo all good\nexit 0\n")

	svc, err := buildServices(serviceOpts{history: true})
	require.NoError(t, err)

	require.NoError(t, testRun(context.Background(), svc, spec))
	assert.Contains(t, outText(t), "all good")

	recs, err := svc.store.ListExecutions(context.Background(), store.ExecutionFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, models.ExecutionSuccess, recs[0].Status)
}

func TestTestRun_Fails(t *testing.T) {
	testEnv(t)
	dir := shProject(t)
	spec := writeSource(t, dir, "hello.component.spec.ts", "echo broken >&2\nexit 3\n")

	svc, err := buildServices(serviceOpts{})
	require.NoError(t, err)

	err = testRun(context.Background(), svc, spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 3")
}

func TestTestRun_NoManifest(t *testing.T) {
	testEnv(t)
	viper.Set("runner.command", "sh")
	spec := writeSource(t, t.TempDir(), "a.spec.ts", "exit 0\n")

	svc, err := buildServices(serviceOpts{})
	require.NoError(t, err)
	assert.Error(t, testRun(context.Background(), svc, spec))
}

func TestFixRun_WithErrorFile(t *testing.T) {
	testEnv(t)
	fixed := `{"testCode":"describe('HelloComponent', () => { it('renders', () => {}); });","explanation":"awaits render","testCases":["renders"]}`
	srv := fakeOpenAI(t, fixed)
	viper.Set("openai.api_key", "sk-test")
	viper.Set("openai.base_url", srv.URL+"/v1")

	dir := shProject(t)
	src := writeSource(t, dir, "hello.component.ts", helloComponent)
	spec := writeSource(t, dir, "hello.component.spec.ts", "describe('broken', () => {});")
	errFile := writeSource(t, dir, "err.txt", "TypeError: cannot read properties of undefined")

	svc, err := buildServices(serviceOpts{chat: true, history: true})
	require.NoError(t, err)

	fixErrorFile = errFile
	t.Cleanup(func() { fixErrorFile = "" })
	require.NoError(t, fixRun(context.Background(), svc, src, spec))

	data, err := os.ReadFile(spec)
	require.NoError(t, err)
	assert.Contains(t, string(data), "it('renders'")

	arts, err := svc.store.ListArtifacts(context.Background(), store.ArtifactFilter{Kind: models.ArtifactFixed})
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, filepath.Clean(spec), filepath.Clean(arts[0].TestPath))
}

func TestFixRun_AlreadyPassing(t *testing.T) {
	testEnv(t)
	srv := fakeOpenAI(t, "unused")
	viper.Set("openai.api_key", "sk-test")
	viper.Set("openai.base_url", srv.URL+"/v1")

	dir := shProject(t)
	src := writeSource(t, dir, "hello.component.ts", helloComponent)
	spec := writeSource(t, dir, "hello.component.spec.ts", "exit 0\n")

	svc, err := buildServices(serviceOpts{chat: true})
	require.NoError(t, err)

	require.NoError(t, fixRun(context.Background(), svc, src, spec))
	assert.Contains(t, outText(t), "already passes")

	data, err := os.ReadFile(spec)
	require.NoError(t, err)
	assert.Equal(t, "exit 0\n", string(data))
}
