package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/output"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/store"
)

var (
	historyLimit  int
	historyStatus string
	historyKind   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded test runs and artifacts",
	Long: `Show recorded test runs and artifacts.

Running bare 'autotest history' is the same as 'autotest history runs'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRunsRun(cmd.Context())
	},
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List test executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRunsRun(cmd.Context())
	},
}

var historyArtifactsCmd = &cobra.Command{
	Use:   "artifacts [source]",
	Short: "List generated and corrected specs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := ""
		if len(args) > 0 {
			source = args[0]
		}
		return historyArtifactsRun(cmd.Context(), source)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the output of one execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd.Context(), args[0])
	},
}

func init() {
	historyCmd.PersistentFlags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum rows")
	historyRunsCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status (running, success, error)")
	historyArtifactsCmd.Flags().StringVar(&historyKind, "kind", "", "Filter by kind (generated, fixed)")
	historyCmd.AddCommand(historyRunsCmd)
	historyCmd.AddCommand(historyArtifactsCmd)
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func historyRunsRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	recs, err := s.ListExecutions(historyContext(ctx), store.ExecutionFilter{
		Status: models.ExecutionStatus(historyStatus),
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		ui.Info("No runs recorded")
		return nil
	}

	table := ui.Table([]string{"ID", "Key", "Status", "Exit", "Started", "Duration"})
	for _, r := range recs {
		exit, dur := "-", "-"
		if r.ExitCode != nil {
			exit = fmt.Sprintf("%d", *r.ExitCode)
		}
		if r.EndTime != nil {
			dur = r.EndTime.Sub(r.StartTime).Round(time.Millisecond).String()
		}
		status := string(r.Status)
		if r.Reason != "" {
			status += " (" + r.Reason + ")"
		}
		if err := table.Append([]string{
			r.ID,
			output.Truncate(relPath(r.Key), 50),
			output.StatusColor(status),
			exit,
			r.StartTime.Local().Format("2006-01-02 15:04:05"),
			dur,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func historyArtifactsRun(ctx context.Context, source string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	recs, err := s.ListArtifacts(historyContext(ctx), store.ArtifactFilter{
		SourcePath: source,
		Kind:       historyKind,
		Limit:      historyLimit,
	})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		ui.Info("No artifacts recorded")
		return nil
	}

	table := ui.Table([]string{"ID", "Kind", "Source", "Spec", "Cases", "Created"})
	for _, a := range recs {
		if err := table.Append([]string{
			a.ID,
			a.Kind,
			output.Truncate(relPath(a.SourcePath), 40),
			output.Truncate(relPath(a.TestPath), 40),
			fmt.Sprintf("%d", len(a.Artifact.TestCases)),
			a.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func historyShowRun(ctx context.Context, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	rec, err := s.GetExecution(historyContext(ctx), id)
	if err != nil {
		return err
	}
	ui.Info("%s %s %s", rec.ID, rec.Key, output.StatusColor(string(rec.Status)))
	if rec.Reason != "" {
		ui.Info("reason: %s", rec.Reason)
	}
	fmt.Fprintln(ui.Out, rec.Output)
	return nil
}
