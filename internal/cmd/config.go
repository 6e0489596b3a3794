package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oddcyb/microbots/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify microbots configuration",
	Long: `View or modify microbots configuration.

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
  microbots config set pool.workers 4
  microbots config set logging.level debug
  microbots config set clock.interval 500ms

Run 'microbots config show' to see every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/microbots/config.yaml with all available options.`,
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

// configKeys maps every settable key to its value kind.
var configKeys = map[string]string{
	"pool.workers":          "int",
	"pool.max_workers":      "int",
	"pool.idle_timeout":     "duration",
	"pool.queue_size":       "int",
	"pool.name_prefix":      "string",
	"pool.shutdown_timeout": "duration",
	"logging.level":         "string",
	"logging.file":          "string",
	"logging.max_size_mb":   "int",
	"logging.max_backups":   "int",
	"logging.compress":      "bool",
	"ipdetect.url":          "string",
	"ipdetect.pattern":      "string",
	"ipdetect.timeout":      "duration",
	"clock.interval":        "duration",
	"clock.ticks":           "int",
	"files.parallelism":     "int",
	"files.debounce":        "duration",
	"tracing.enabled":       "bool",
	"tracing.endpoint":      "string",
	"tracing.service_name":  "string",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, titleStyle.Render("Current configuration"))
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(out, field("config file", used))
	} else {
		fmt.Fprintln(out, field("config file", "(none - using defaults)"))
	}
	fmt.Fprintln(out)

	data, err := renderConfig(cfg)
	if err != nil {
		return err
	}
	fmt.Fprint(out, string(data))

	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, errorStyle.Render(config.ValidationErrors(errs).Error()))
	}
	return nil
}

// renderConfig encodes cfg as YAML. Durations are written in their text
// form, which viper reads back.
func renderConfig(cfg *config.Config) ([]byte, error) {
	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	keyType, ok := configKeys[key]
	if !ok {
		keys := make([]string, 0, len(configKeys))
		for k := range configKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Errorf("unknown configuration key: %s\nValid keys: %s", key, strings.Join(keys, ", "))
	}

	typedValue, err := parseConfigValue(key, keyType, value)
	if err != nil {
		return err
	}

	// Validate the resulting configuration before writing it
	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return err
	}

	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

func parseConfigValue(key, kind, value string) (any, error) {
	switch kind {
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case "duration":
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration such as 500ms or 2s", key)
		}
		return d.String(), nil
	default:
		return value, nil
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'microbots config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := renderConfig(config.Default())
	if err != nil {
		return err
	}

	content := "# microbots configuration\n" +
		"# Every key can also be set with a MICROBOTS_ environment variable,\n" +
		"# e.g. MICROBOTS_POOL_WORKERS=4 for pool.workers.\n\n" +
		string(data)

	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, successStyle.Render("Created config file at "+configFile))
	fmt.Fprintln(out, "Edit this file to customize microbots.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(out, field("active config", used))
	} else {
		fmt.Fprintln(out, field("default path", configFile+" (not created)"))
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/microbots/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: MICROBOTS_* (e.g., MICROBOTS_POOL_WORKERS)")
	return nil
}
