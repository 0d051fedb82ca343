package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/output"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/scanner"
)

// watchDebounce coalesces bursts of filesystem events into one re-scan.
const watchDebounce = 300 * time.Millisecond

var (
	scanIncludeTests bool
	scanIncludeSpecs bool
	scanNoRecursive  bool
	scanExtensions   []string
	scanExcludes     []string
	scanNoGitignore  bool
	scanWatch        bool
	scanJSON         bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [dir]",
	Short: "List components found under a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		return scanRun(cmd.Context(), dir)
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanIncludeTests, "include-tests", false, "Include *.test.* files")
	scanCmd.Flags().BoolVar(&scanIncludeSpecs, "include-specs", false, "Include *.spec.* files")
	scanCmd.Flags().BoolVar(&scanNoRecursive, "no-recursive", false, "Only scan the top directory")
	scanCmd.Flags().StringSliceVar(&scanExtensions, "ext", []string{".ts"}, "File extensions to scan")
	scanCmd.Flags().StringSliceVar(&scanExcludes, "exclude", nil, "Additional exclude globs")
	scanCmd.Flags().BoolVar(&scanNoGitignore, "no-gitignore", false, "Do not honour .gitignore")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Re-scan when files change")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(scanCmd)
}

func scanOptions() scanner.Options {
	return scanner.Options{
		IncludeTestFiles: scanIncludeTests,
		IncludeSpecFiles: scanIncludeSpecs,
		Recursive:        !scanNoRecursive,
		Extensions:       scanExtensions,
		Exclude:          scanExcludes,
		RespectGitignore: !scanNoGitignore,
	}
}

func scanRun(ctx context.Context, dir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := buildServices(serviceOpts{})
	if err != nil {
		return err
	}

	opts := scanOptions()
	res := svc.scanner.Scan(ctx, dir, opts)
	if err := printScan(res); err != nil {
		return err
	}
	if !scanWatch {
		if len(res.Descriptors) == 0 && len(res.Errors) > 0 {
			return fmt.Errorf("scan failed: %s", res.Errors[0].Message)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()
	return watchDir(ctx, dir, opts.Recursive, func() {
		fmt.Fprintln(ui.Out)
		ui.Info("Change detected, re-scanning %s", dir)
		if err := printScan(svc.scanner.Scan(ctx, dir, opts)); err != nil {
			ui.Error("%v", err)
		}
	})
}

func printScan(res *models.ScanResult) error {
	if scanJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if len(res.Descriptors) == 0 {
		ui.Info("No components found (%d files scanned)", res.ScannedFiles)
	} else {
		table := ui.Table([]string{"Component", "Selector", "Standalone", "Methods", "Deps", "File"})
		for _, d := range res.Descriptors {
			if err := table.Append([]string{
				output.Cyan(d.Name),
				d.Selector,
				fmt.Sprintf("%t", d.Standalone),
				fmt.Sprintf("%d", len(d.Methods)),
				fmt.Sprintf("%d", len(d.Dependencies)),
				relPath(d.FilePath),
			}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Fprintln(ui.Out)
		ui.Success("%d components in %d files (%dms)", len(res.Descriptors), res.ScannedFiles, res.ScanTimeMs)
	}

	for _, e := range res.Errors {
		ui.Warning("%s", e.Error())
	}
	return nil
}

// watchDir calls onChange after each debounced burst of changes to source
// files under dir, until ctx is done.
func watchDir(ctx context.Context, dir string, recursive bool, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := addWatches(w, dir, recursive); err != nil {
		return err
	}
	ui.Info("Watching %s (Ctrl-C to stop)", dir)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && recursive {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !skippedDir(info.Name()) {
					_ = addWatches(w, ev.Name, true)
				}
			}
			if !watchedFile(ev.Name) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			onChange()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)
		}
	}
}

func addWatches(w *fsnotify.Watcher, root string, recursive bool) error {
	if !recursive {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && skippedDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func skippedDir(name string) bool {
	switch name {
	case "node_modules", "dist", "build", "coverage", ".angular", ".git":
		return true
	}
	return false
}

func watchedFile(path string) bool {
	for _, ext := range scanExtensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// relPath shortens path relative to the working directory when possible.
func relPath(path string) string {
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(wd, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}
