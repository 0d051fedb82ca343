package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/git"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/project"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/scanner"
)

// gitClient is replaceable in tests.
var gitClient git.Client = git.NewClient()

// targetFlags adds --changed and --base to commands that take component files.
type targetFlags struct {
	changed bool
	base    string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.changed, "changed", false, "Add components changed in git to the targets")
	cmd.Flags().StringVar(&f.base, "base", git.DefaultBase, "Git ref --changed compares against")
}

// resolve returns args plus, with --changed, every changed component file.
func (f *targetFlags) resolve(args []string, sc *scanner.Scanner) ([]string, error) {
	targets := append([]string{}, args...)
	if f.changed {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		changed, err := changedComponents(wd, f.base, sc)
		if err != nil {
			return nil, err
		}
		if len(changed) == 0 {
			ui.Info("No changed components since %s", f.base)
		}
		targets = append(targets, changed...)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no target files: pass files or use --changed")
	}
	return targets, nil
}

// changedComponents filters the files git reports as changed down to
// component sources the extractor recognises.
func changedComponents(dir, base string, sc *scanner.Scanner) ([]string, error) {
	files, err := gitClient.ChangedFiles(dir, base)
	if err != nil {
		return nil, fmt.Errorf("list changed files: %w", err)
	}
	var out []string
	for _, f := range files {
		if filepath.Ext(f) != ".ts" || project.IsTestFile(f) {
			continue
		}
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		d, ok := sc.Extractor().Extract(f, string(data))
		if !ok || scanner.IsLibraryArtifact(d) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
