package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/api"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/daemon"
)

const (
	shutdownTimeout = 10 * time.Second
	stopGrace       = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server in the foreground",
	Long: `Start the HTTP server with the REST endpoints under /api/v1 and the
real-time WebSocket channel at /ws. By default it listens on port 8080.

Use 'autotest serve start' to run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "autotest-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "autotest-serve.log")
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pf := pidFile()
	pid := os.Getpid()
	if err := pf.Acquire(pid); err != nil {
		return fmt.Errorf("server %w", err)
	}
	defer func() { _ = pf.Release(pid) }()

	svc, err := buildServices(serviceOpts{chat: true, history: true})
	if err != nil {
		return err
	}

	srv := api.NewServer(api.Deps{
		Scanner:     svc.scanner,
		Generator:   svc.generator,
		Runner:      svc.runner,
		Flow:        svc.flow,
		Store:       svc.store,
		Layout:      svc.layout,
		Writer:      svc.writer,
		Bus:         svc.bus,
		Concurrency: viper.GetInt("flow.concurrency"),
		Logger:      logger,
	})

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		ui.Success("Serving at http://localhost%s (WebSocket at /ws)", addr)
		logger.Info("server listening", "addr", addr, "pid", pid)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	ui.Info("Shutting down")
	logger.Info("server shutting down")
	svc.runner.CancelAll()
	for _, s := range svc.flow.Sessions() {
		s.Cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func serveStartRun() error {
	pf := pidFile()
	if pid, ok := pf.IsRunning(); ok {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	args := []string{"serve", "--port", fmt.Sprintf("%d", viper.GetInt("port"))}
	if cfg, _ := rootCmd.PersistentFlags().GetString("config"); cfg != "" {
		args = append(args, "--config", cfg)
	}

	if dryRun {
		ui.DryRunMsg("Would start %s %v (log %s)", exe, args, serveLogPath())
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(serveLogPath()), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logf, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open server log: %w", err)
	}
	defer logf.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logf
	child.Stderr = logf
	setDaemonAttrs(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	ui.Success("Server started (pid %d), logging to %s", child.Process.Pid, serveLogPath())
	return child.Process.Release()
}

func serveStopRun() error {
	pf := pidFile()
	if dryRun {
		if pid, ok := pf.IsRunning(); ok {
			ui.DryRunMsg("Would stop server (pid %d)", pid)
			return nil
		}
	}
	pid, err := pf.Stop(sigTERM(), sigKILL(), stopGrace)
	if errors.Is(err, daemon.ErrNotRunning) {
		return fmt.Errorf("server is not running")
	}
	if err != nil {
		return err
	}
	ui.Success("Server stopped (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pid, ok := pidFile().IsRunning()
	if !ok {
		ui.Info("Server is %s", "not running")
		return nil
	}
	ui.Success("Server is running (pid %d) on port %d", pid, viper.GetInt("port"))
	return nil
}
