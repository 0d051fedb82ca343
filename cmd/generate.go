package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/generator"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/output"
)

var (
	generateWrite       bool
	generateConcurrency int
	generateTargets     targetFlags
)

var generateCmd = &cobra.Command{
	Use:   "generate [file]...",
	Short: "Generate unit tests for component files",
	Long: `Ask the configured LLM for a spec per component file.

Without --write the generated code is printed. With --write each spec is
saved next to its source (or under project.test_root) and recorded in history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		svc, err := buildServices(serviceOpts{chat: true, history: generateWrite})
		if err != nil {
			return err
		}
		files, err := generateTargets.resolve(args, svc.scanner)
		if err != nil {
			return err
		}
		return generateRun(ctx, svc, files)
	},
}

func init() {
	generateCmd.Flags().BoolVar(&generateWrite, "write", false, "Write spec files")
	generateCmd.Flags().IntVarP(&generateConcurrency, "concurrency", "c", 0, "Parallel LLM calls (default flow.concurrency)")
	generateTargets.register(generateCmd)
	rootCmd.AddCommand(generateCmd)
}

func generateRun(ctx context.Context, svc *services, files []string) error {
	concurrency := generateConcurrency
	if concurrency <= 0 {
		concurrency = viper.GetInt("flow.concurrency")
	}
	results := svc.generator.GenerateBatch(ctx, files, concurrency)

	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			ui.Error("%s: %v", res.FilePath, res.Err)
			continue
		}
		if err := persistGenerated(ctx, svc, res); err != nil {
			failed++
			ui.Error("%s: %v", res.FilePath, err)
		}
	}

	if len(results) > 1 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"File", "Component", "Cases", "Status"})
		for _, res := range results {
			name, cases, status := "", "-", "success"
			if res.Descriptor != nil {
				name = res.Descriptor.Name
			}
			if res.Artifact != nil {
				cases = fmt.Sprintf("%d", len(res.Artifact.TestCases))
			}
			if res.Err != nil {
				status = "error"
			}
			if err := table.Append([]string{relPath(res.FilePath), name, cases, output.StatusColor(status)}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

// persistGenerated writes or prints one generated artifact.
func persistGenerated(ctx context.Context, svc *services, res generator.GenerateResult) error {
	if !generateWrite {
		ui.Info("%s", relPath(res.FilePath))
		fmt.Fprintln(ui.Out, res.Artifact.TestCode)
		if res.Artifact.SetupInstructions != "" {
			ui.VerboseLog("setup: %s", res.Artifact.SetupInstructions)
		}
		return nil
	}

	testPath, err := svc.layout.TestPath(res.FilePath)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would write %s", relPath(testPath))
		return nil
	}
	if err := svc.writer.Write(testPath, res.Artifact.TestCode); err != nil {
		return fmt.Errorf("write spec: %w", err)
	}
	ui.Success("Wrote %s (%d cases)", relPath(testPath), len(res.Artifact.TestCases))

	if svc.store != nil {
		rec := &models.ArtifactRecord{
			SourcePath: res.FilePath,
			TestPath:   testPath,
			Kind:       models.ArtifactGenerated,
			Artifact:   *res.Artifact,
		}
		if err := svc.store.SaveArtifact(ctx, rec); err != nil {
			ui.Warning("history: %v", err)
		}
	}
	return nil
}
