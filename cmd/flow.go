package cmd

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/flow"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/output"
)

var flowTargets targetFlags

var flowCmd = &cobra.Command{
	Use:   "flow [file]...",
	Short: "Generate, run and correct tests until they pass",
	Long: `Run the full loop for each component: generate a spec, write it, run it
and, on failure, feed the output back to the LLM for a corrected spec.

A target ends when its spec passes or after flow.max_fix_attempts corrections.
Ctrl-C cancels the flow and stops running tests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		svc, err := buildServices(serviceOpts{chat: true, history: true})
		if err != nil {
			return err
		}
		files, err := flowTargets.resolve(args, svc.scanner)
		if err != nil {
			return err
		}
		return flowRun(ctx, svc, files)
	},
}

func init() {
	flowTargets.register(flowCmd)
	rootCmd.AddCommand(flowCmd)
}

func flowRun(ctx context.Context, svc *services, files []string) error {
	if dryRun {
		for _, f := range files {
			ui.DryRunMsg("Would generate, run and correct %s", relPath(f))
		}
		return nil
	}

	stopProgress := flowProgress(svc.bus)
	sess, err := svc.flow.Start(ctx, files)
	if err != nil {
		stopProgress()
		return err
	}
	ui.Info("Flow %s started for %d files", sess.ID, len(files))

	sigCtx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	select {
	case <-sess.Done():
	case <-sigCtx.Done():
		ui.Warning("Cancelling flow %s", sess.ID)
		sess.Cancel()
		svc.runner.CancelAll()
		<-sess.Done()
	}
	stopProgress()

	sum := sess.Summary()
	fmt.Fprintln(ui.Out)
	if err := printFlowSummary(sum); err != nil {
		return err
	}

	if sum.State == flow.StateCancelled {
		return fmt.Errorf("flow %s cancelled", sum.ID)
	}
	var failed int
	for _, t := range sum.Targets {
		if t.Outcome != flow.OutcomePassed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d targets did not pass", failed, len(sum.Targets))
	}
	ui.Success("All %d targets pass", len(sum.Targets))
	return nil
}

func printFlowSummary(sum flow.Summary) error {
	table := ui.Table([]string{"File", "Outcome", "Last Run", "Fixes"})
	for _, t := range sum.Targets {
		outcome := t.Outcome
		if outcome == "" {
			outcome = string(sum.State)
		}
		last := string(t.LastStatus)
		if last == "" {
			last = "-"
		}
		if err := table.Append([]string{
			relPath(t.Path),
			output.StatusColor(outcome),
			last,
			fmt.Sprintf("%d", t.Fixes),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// flowProgress prints one line per step until the returned func is called.
func flowProgress(bus *events.Bus) func() {
	const name = "cli-flow"
	ch := bus.Subscribe(name)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			switch ev.Type {
			case events.TestGenerated:
				ui.Info("generated %s", relPath(ev.Key))
			case events.ExecutionCompleted:
				if res, ok := ev.Data.(*models.ExecutionResult); ok && !res.Success {
					ui.Warning("failed %s (exit %d)", relPath(ev.Key), res.ExitCode)
					continue
				}
				ui.Success("passed %s", relPath(ev.Key))
			case events.ExecutionError:
				ui.Warning("interrupted %s", relPath(ev.Key))
			case events.FixStarted:
				ui.Info("correcting %s", relPath(ev.Key))
			case events.FlowTargetFailed:
				ui.Error("giving up on %s", relPath(ev.Key))
			}
		}
	}()
	return func() {
		bus.Unsubscribe(name)
		<-done
	}
}
