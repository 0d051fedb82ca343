package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "autotest"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage autotest configuration.

Running bare 'autotest config' is the same as 'autotest config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# autotest configuration
# See: autotest config show (for effective values and sources)
# Every key can also be set as AUTOTEST_<KEY>, dots replaced by underscores.

# State/data directory (default: ~/.config/autotest)
# state_dir: {{ .StateDir }}

# SQLite history database (default: ~/.config/autotest/autotest.db)
# db_path: {{ .DBPath }}

log:
  # Rotating log file; empty logs to stderr
  file: "{{ .LogFile }}"
  # debug, info, warn or error
  level: "{{ .LogLevel }}"

provider:
  # openai, anthropic or token
  kind: "{{ .ProviderKind }}"
  # Empty uses the backend default
  model: "{{ .ProviderModel }}"
  temperature: {{ .Temperature }}
  max_tokens: {{ .MaxTokens }}
  # 0 disables client-side throttling
  requests_per_minute: {{ .RequestsPerMinute }}

openai:
  # Falls back to OPENAI_API_KEY
  api_key: ""
  base_url: ""

anthropic:
  # Falls back to ANTHROPIC_API_KEY
  api_key: ""
  base_url: ""

# Client-credentials gateway; set chat_url or agent_url
token:
  token_url: ""
  client_id: ""
  client_secret: ""
  chat_url: ""
  agent_url: ""

runner:
  # Empty detects jest, karma or vitest from package.json
  command: "{{ .RunnerCommand }}"
  timeout: "{{ .RunnerTimeout }}"
  manifest: "{{ .RunnerManifest }}"

project:
  # Where specs are written; empty places them next to the source
  test_root: "{{ .TestRoot }}"
  spec_suffix: "{{ .SpecSuffix }}"
  framework: "{{ .Framework }}"

flow:
  # Corrections per target before it is marked failed; 0 is unbounded
  max_fix_attempts: {{ .MaxFixAttempts }}
  concurrency: {{ .Concurrency }}

# serve listen port
port: {{ .Port }}
`

type configTemplateData struct {
	StateDir          string
	DBPath            string
	LogFile           string
	LogLevel          string
	ProviderKind      string
	ProviderModel     string
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
	RunnerCommand     string
	RunnerTimeout     string
	RunnerManifest    string
	TestRoot          string
	SpecSuffix        string
	Framework         string
	MaxFixAttempts    int
	Concurrency       int
	Port              int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	data := configTemplateData{
		StateDir:          viper.GetString("state_dir"),
		DBPath:            viper.GetString("db_path"),
		LogFile:           viper.GetString("log.file"),
		LogLevel:          viper.GetString("log.level"),
		ProviderKind:      viper.GetString("provider.kind"),
		ProviderModel:     viper.GetString("provider.model"),
		Temperature:       viper.GetFloat64("provider.temperature"),
		MaxTokens:         viper.GetInt("provider.max_tokens"),
		RequestsPerMinute: viper.GetInt("provider.requests_per_minute"),
		RunnerCommand:     viper.GetString("runner.command"),
		RunnerTimeout:     viper.GetString("runner.timeout"),
		RunnerManifest:    viper.GetString("runner.manifest"),
		TestRoot:          viper.GetString("project.test_root"),
		SpecSuffix:        viper.GetString("project.spec_suffix"),
		Framework:         viper.GetString("project.framework"),
		MaxFixAttempts:    viper.GetInt("flow.max_fix_attempts"),
		Concurrency:       viper.GetInt("flow.concurrency"),
		Port:              viper.GetInt("port"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	Secret bool
}

// EnvVar is the environment variable viper binds the key to.
func (k configKeyInfo) EnvVar() string {
	return "AUTOTEST_" + strings.ToUpper(strings.ReplaceAll(k.Key, ".", "_"))
}

var configKeys = []configKeyInfo{
	{Key: "state_dir"},
	{Key: "db_path"},
	{Key: "log.file"},
	{Key: "log.level"},
	{Key: "provider.kind"},
	{Key: "provider.model"},
	{Key: "provider.temperature"},
	{Key: "provider.max_tokens"},
	{Key: "provider.requests_per_minute"},
	{Key: "openai.api_key", Secret: true},
	{Key: "openai.base_url"},
	{Key: "anthropic.api_key", Secret: true},
	{Key: "anthropic.base_url"},
	{Key: "token.token_url"},
	{Key: "token.client_id"},
	{Key: "token.client_secret", Secret: true},
	{Key: "token.scopes"},
	{Key: "token.chat_url"},
	{Key: "token.agent_url"},
	{Key: "runner.command"},
	{Key: "runner.file_args"},
	{Key: "runner.suite_args"},
	{Key: "runner.timeout"},
	{Key: "runner.manifest"},
	{Key: "project.source_root"},
	{Key: "project.test_root"},
	{Key: "project.spec_suffix"},
	{Key: "project.framework"},
	{Key: "flow.max_fix_attempts"},
	{Key: "flow.concurrency"},
	{Key: "port"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar(), fileValues)
		fmt.Fprintf(ui.Out, "  %-30s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// maskSecret keeps the last four characters of a credential.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, e.g. export EDITOR=vim")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'autotest config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
