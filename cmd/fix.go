package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/generator"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/output"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/runner"
)

var (
	fixErrorFile string
	fixWrite     bool
	fixShowPatch bool
)

var fixCmd = &cobra.Command{
	Use:   "fix <source> <test-file>",
	Short: "Run one correction round for a failing spec",
	Long: `Send the component, its failing spec and the runner output to the LLM and
apply the corrected spec.

The failure output comes from --error-file; without it the spec is run first
and its output is used. A spec that already passes is left alone.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		svc, err := buildServices(serviceOpts{chat: true, history: true})
		if err != nil {
			return err
		}
		return fixRun(ctx, svc, args[0], args[1])
	},
}

func init() {
	fixCmd.Flags().StringVarP(&fixErrorFile, "error-file", "e", "", "File holding the runner failure output")
	fixCmd.Flags().BoolVar(&fixWrite, "write", true, "Overwrite the spec with the corrected code")
	fixCmd.Flags().BoolVar(&fixShowPatch, "patch", false, "Print the patch between the old and new spec")
	rootCmd.AddCommand(fixCmd)
}

func fixRun(ctx context.Context, svc *services, source, testFile string) error {
	component, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("read component: %w", err)
	}
	testCode, err := os.ReadFile(testFile)
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}

	errMsg, err := failureOutput(ctx, svc, testFile)
	if err != nil {
		return err
	}
	if errMsg == "" {
		ui.Success("%s already passes, nothing to fix", relPath(testFile))
		return nil
	}

	name := ""
	if d, ok := svc.scanner.Extractor().Extract(source, string(component)); ok {
		name = d.Name
	}

	res, err := svc.generator.Fix(ctx, generator.FixRequest{
		ComponentCode: string(component),
		TestCode:      string(testCode),
		ErrorMessage:  errMsg,
		ComponentName: name,
		FilePath:      testFile,
	})
	if err != nil {
		return err
	}

	ui.Info("Corrected %s: %s / %s lines", relPath(testFile),
		output.Green(fmt.Sprintf("+%d", res.Diff.Added)), output.Red(fmt.Sprintf("-%d", res.Diff.Removed)))
	if fixShowPatch {
		fmt.Fprintln(ui.Out, res.Patch)
	}
	if res.Artifact.Explanation != "" {
		ui.VerboseLog("%s", res.Artifact.Explanation)
	}

	if !fixWrite {
		fmt.Fprintln(ui.Out, res.Artifact.TestCode)
		return nil
	}
	if dryRun {
		ui.DryRunMsg("Would overwrite %s", relPath(testFile))
		return nil
	}
	if err := svc.writer.Write(testFile, res.Artifact.TestCode); err != nil {
		return fmt.Errorf("write spec: %w", err)
	}
	ui.Success("Wrote %s", relPath(testFile))

	if svc.store != nil {
		rec := &models.ArtifactRecord{
			SourcePath: source,
			TestPath:   testFile,
			Kind:       models.ArtifactFixed,
			Artifact:   *res.Artifact,
		}
		if err := svc.store.SaveArtifact(ctx, rec); err != nil {
			ui.Warning("history: %v", err)
		}
	}
	return nil
}

// failureOutput returns the runner output to correct against. An empty
// string means the spec passed.
func failureOutput(ctx context.Context, svc *services, testFile string) (string, error) {
	if fixErrorFile != "" {
		data, err := os.ReadFile(fixErrorFile)
		if err != nil {
			return "", fmt.Errorf("read error file: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("error file %s is empty", fixErrorFile)
		}
		return string(data), nil
	}

	ui.Info("Running %s to capture the failure", relPath(testFile))
	res, err := svc.runner.ExecuteOne(ctx, runner.OneRequest{TestFilePath: testFile})
	if err != nil {
		return "", err
	}
	if res.Success {
		return "", nil
	}
	if res.Output != "" {
		return res.Output, nil
	}
	return res.Error, nil
}
