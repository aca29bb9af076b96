package cmd

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/tasktree/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify tasktree configuration",
	Long: `View or modify tasktree configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  tasktree config set resolver.max_batch 32
  tasktree config set download.allow_file_api false
  tasktree config set logging.level debug

Run 'tasktree config show' to list every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/tasktree/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(out, "# Invalid configuration, showing defaults:\n# %s\n",
			strings.ReplaceAll(strings.TrimSpace(err.Error()), "\n", "\n# "))
		cfg = config.Default()
	}
	if cfg.Download.APIKey != "" {
		cfg.Download.APIKey = "********"
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}

// fieldKind returns the kind of the Config field a dotted key names.
func fieldKind(key string) (reflect.Kind, bool) {
	t := reflect.TypeOf(config.Config{})
	for _, part := range strings.Split(key, ".") {
		if t.Kind() != reflect.Struct {
			return reflect.Invalid, false
		}
		found := false
		for i := range t.NumField() {
			if f := t.Field(i); f.Tag.Get("mapstructure") == part {
				t, found = f.Type, true
				break
			}
		}
		if !found {
			return reflect.Invalid, false
		}
	}
	return t.Kind(), t.Kind() != reflect.Struct
}

// parseValue converts a command-line value to the type of the key's field.
func parseValue(key string, kind reflect.Kind, value string) (any, error) {
	switch kind {
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected number", key)
		}
		return f, nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.ToLower(args[0])
	value := args[1]

	kind, ok := fieldKind(key)
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'tasktree config show' to see valid keys", key)
	}

	typed, err := parseValue(key, kind, value)
	if err != nil {
		return err
	}

	previous := viper.Get(key)
	viper.Set(key, typed)
	if _, err := config.Load(); err != nil {
		viper.Set(key, previous)
		return err
	}

	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := config.ConfigFile()
	if viper.ConfigFileUsed() != "" {
		configFile = viper.ConfigFileUsed()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typed)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

const configTemplate = `# tasktree configuration

# Progress reporting
watcher:
  # How often buffered progress is delivered, in milliseconds
  flush_interval_ms: %d

# Download URL resolution
resolver:
  # Batch sizes: the first pass uses initial_batch, failures halve it down
  # to min_batch and clean passes double it up to max_batch
  initial_batch: %d
  min_batch: %d
  max_batch: %d
  # Lookups per file before giving up (0 = until resolved)
  max_attempts: %d
  # Resolved URLs remembered between installs in one process
  cache_size: %d
  # Curseforge API throttle (0 = unlimited)
  requests_per_second: %g
  burst: %d

# Downloads
download:
  timeout_seconds: %d
  retry_max: %d
  # Fetch MCBBS addon files from the pack's file API
  allow_file_api: %t
  curseforge_base_url: %s
  # Curseforge API key (or set TASKTREE_DOWNLOAD_API_KEY)
  api_key: ""

logging:
  # debug, info, warn or error
  level: %s
  # Directory for tasktree.log; empty logs to stderr
  dir: ""

metrics:
  enabled: %t
  namespace: %s
  address: %s
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'tasktree config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	d := config.Default()
	content := fmt.Sprintf(configTemplate,
		d.Watcher.FlushIntervalMs,
		d.Resolver.InitialBatch, d.Resolver.MinBatch, d.Resolver.MaxBatch,
		d.Resolver.MaxAttempts, d.Resolver.CacheSize,
		d.Resolver.RequestsPerSecond, d.Resolver.Burst,
		d.Download.TimeoutSeconds, d.Download.RetryMax, d.Download.AllowFileAPI,
		d.Download.CurseforgeBaseURL,
		d.Logging.Level,
		d.Metrics.Enabled, d.Metrics.Namespace, d.Metrics.Address,
	)

	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: TASKTREE_* (e.g., TASKTREE_RESOLVER_MAX_BATCH)")

	return nil
}
