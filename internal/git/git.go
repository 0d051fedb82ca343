// Package git answers the few repository questions autotest needs: where the
// repo root is and which files changed. It shells out to the git binary.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultBase is the ref ChangedFiles compares against when none is given.
const DefaultBase = "HEAD"

// Client defines the git operations used to pick generation targets.
type Client interface {
	RepoRoot(path string) (string, error)
	ChangedFiles(path, base string) ([]string, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--show-toplevel")
}

// ChangedFiles returns absolute paths of files that differ from base in the
// working tree, staged or not, plus untracked files not ignored by git.
// Deleted files are left out.
func (c *RealClient) ChangedFiles(path, base string) ([]string, error) {
	if base == "" {
		base = DefaultBase
	}
	root, err := c.RepoRoot(path)
	if err != nil {
		return nil, err
	}
	diff, err := gitCmd(root, "diff", "--name-only", "--diff-filter=d", base, "--")
	if err != nil {
		return nil, err
	}
	untracked, err := gitCmd(root, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	return joinPaths(root, diff, untracked), nil
}

// joinPaths turns newline-separated repo-relative listings into sorted,
// de-duplicated absolute paths.
func joinPaths(root string, listings ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range listings {
		for _, line := range strings.Split(l, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			p := filepath.Join(root, filepath.FromSlash(line))
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}
