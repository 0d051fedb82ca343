package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/output"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/runner"
)

var (
	runAll     bool
	runTimeout time.Duration
	runQuiet   bool
	runProject string
)

var runCmd = &cobra.Command{
	Use:   "run [test-file]",
	Short: "Run one spec file or the whole suite",
	Long: `Run a spec file with the project's test CLI, streaming its output.
The project root is the nearest directory above the file with a package.json.

Use --all to run the whole suite of the project containing --project (default .).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !runAll && len(args) == 0 {
			return fmt.Errorf("a test file is required unless --all is set")
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
		defer stop()

		svc, err := buildServices(serviceOpts{history: true})
		if err != nil {
			return err
		}
		file := ""
		if len(args) > 0 {
			file = args[0]
		}
		return testRun(ctx, svc, file)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runAll, "all", false, "Run the whole suite")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Kill the run after this long (default runner.timeout)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Do not stream test output")
	runCmd.Flags().StringVar(&runProject, "project", ".", "Project directory for --all")
	rootCmd.AddCommand(runCmd)
}

func testRun(ctx context.Context, svc *services, file string) error {
	if !runQuiet {
		stopStream := streamOutput(svc.bus)
		defer stopStream()
	}

	// Ctrl-C stops the child process group rather than orphaning it.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-runCtx.Done()
		if ctx.Err() != nil {
			svc.runner.CancelAll()
		}
	}()

	var (
		res *models.ExecutionResult
		err error
	)
	if runAll {
		res, err = svc.runner.ExecuteAll(ctx, runner.AllRequest{ProjectPath: runProject, Timeout: runTimeout})
	} else {
		res, err = svc.runner.ExecuteOne(ctx, runner.OneRequest{TestFilePath: file, Timeout: runTimeout})
	}
	if err != nil {
		return err
	}
	return reportResult(res)
}

// streamOutput copies runner output events to the terminal until the
// returned stop func is called.
func streamOutput(bus *events.Bus) func() {
	name := fmt.Sprintf("cli-stream-%d", time.Now().UnixNano())
	ch := bus.Subscribe(name)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Type != events.ExecutionOutput && ev.Type != events.AllTestsOutput {
				continue
			}
			chunk, ok := ev.Data.(runner.OutputChunk)
			if !ok {
				continue
			}
			w := ui.Out
			if chunk.Stream == "stderr" {
				w = ui.ErrOut
			}
			fmt.Fprint(w, chunk.Data)
		}
	}()
	return func() {
		bus.Unsubscribe(name)
		<-done
	}
}

func reportResult(res *models.ExecutionResult) error {
	fmt.Fprintln(ui.Out)
	status := string(res.Status())
	if res.Success {
		ui.Success("%s %s in %s", res.Key, output.StatusColor(status), res.Duration.Round(time.Millisecond))
		return nil
	}
	msg := res.Error
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", res.ExitCode)
	}
	if res.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, res.Reason)
	}
	return fmt.Errorf("%s failed: %s", res.Key, msg)
}
