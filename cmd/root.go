package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/logging"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/output"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	logFile   *logging.Logger
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "autotest",
	Short: "Generate, run and repair Angular unit tests with an LLM",
	Long: `autotest scans an Angular project for components, asks an LLM for a spec
per component, runs the specs with the project's test CLI and feeds failures
back to the LLM until they pass or the retry bound is hit.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(ui.Out, "autotest %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	closeDeps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without writing files")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/autotest/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	// API keys may live in a .env next to the project.
	_ = godotenv.Load()

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AUTOTEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	_ = viper.ReadInConfig()
}

// setDefaults registers every config key so env lookups and config show see
// them.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "autotest.db"))
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.level", "info")

	viper.SetDefault("provider.kind", "openai")
	viper.SetDefault("provider.model", "")
	viper.SetDefault("provider.temperature", 0.2)
	viper.SetDefault("provider.max_tokens", 4096)
	viper.SetDefault("provider.requests_per_minute", 0)
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.base_url", "")
	viper.SetDefault("token.token_url", "")
	viper.SetDefault("token.client_id", "")
	viper.SetDefault("token.client_secret", "")
	viper.SetDefault("token.scopes", []string{})
	viper.SetDefault("token.chat_url", "")
	viper.SetDefault("token.agent_url", "")

	viper.SetDefault("runner.command", "")
	viper.SetDefault("runner.file_args", []string{})
	viper.SetDefault("runner.suite_args", []string{})
	viper.SetDefault("runner.timeout", "2m")
	viper.SetDefault("runner.manifest", "package.json")

	viper.SetDefault("project.source_root", "")
	viper.SetDefault("project.test_root", "")
	viper.SetDefault("project.spec_suffix", ".spec")
	viper.SetDefault("project.framework", "jest")

	viper.SetDefault("flow.max_fix_attempts", 5)
	viper.SetDefault("flow.concurrency", 4)
	viper.SetDefault("port", 8080)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	l, err := logging.New(logging.Config{File: viper.GetString("log.file"), Level: level})
	if err != nil {
		ui.Warning("logging: %v", err)
		l = logging.NewWithWriter(os.Stderr, slog.LevelInfo, nil)
	}
	logFile = l
	logger = l.Logger
	slog.SetDefault(logger)

	// The store is opened lazily, only by commands that record history.
}

func closeDeps() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
	if logFile != nil {
		_ = logFile.Close()
	}
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}
	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := store.OpenMigrated(ctx, viper.GetString("db_path"))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	dataStore = s
	return dataStore, nil
}

// optionalStore returns the store, or nil with a warning when it cannot be
// opened. History is best-effort for commands whose main job is elsewhere.
func optionalStore() store.Store {
	s, err := getStore()
	if err != nil {
		ui.Warning("history disabled: %v", err)
		return nil
	}
	return s
}
