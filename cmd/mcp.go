package cmd

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio so an MCP client
can scan components and generate, run and fix their tests. Configure it with:

  {
    "mcpServers": {
      "autotest": { "command": "autotest", "args": ["mcp"] }
    }
  }

Available tools: autotest_scan, autotest_generate, autotest_run_test,
autotest_fix_test, autotest_normalize`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
		defer stop()

		svc, err := buildServices(serviceOpts{chat: true, history: true})
		if err != nil {
			return err
		}
		defer svc.runner.CancelAll()

		srv := mcp.NewServer(mcp.Deps{
			Scanner:    svc.scanner,
			Generator:  svc.generator,
			Runner:     svc.runner,
			Normalizer: svc.normalizer,
			Layout:     svc.layout,
			Writer:     svc.writer,
			Version:    buildVersion,
		})
		logger.Info("mcp server starting", "version", buildVersion)
		if err := srv.ServeStdio(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
