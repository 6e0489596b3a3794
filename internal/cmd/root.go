package cmd

import (
	"fmt"
	"strings"

	"github.com/oddcyb/microbots/internal/config"
	"github.com/oddcyb/microbots/internal/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "microbots",
	Short: "Small robots that watch, react and run on a shared worker pool",
	Long: `Microbots runs small units of work ("robots") on a shared worker pool.

Watchers produce values such as clock ticks, filesystem changes or the
public IP address and send them as named events. Reactors subscribe to
those names and act on every event they receive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints the error it fails with, if any.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrln(errorStyle.Render("Error: " + errorMessage(err)))
	}
	return err
}

// errorMessage returns the text shown for err on the terminal. Internal
// failures such as panics and failed actions are only summarized there; the
// log has their detail.
func errorMessage(err error) string {
	msg := err.Error()

	var mbErr errors.MicrobotsError
	if errors.As(err, &mbErr) && !errors.IsUserFacing(err) {
		msg = fmt.Sprintf("internal error (%s), see the log for details", errors.GetSeverity(err))
	}
	if errors.IsRetryable(err) {
		msg += " (try again)"
	}
	return msg
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/microbots/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	bindFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	bindFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/microbots")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("MICROBOTS")
	// Replace dots with underscores for nested keys in env vars
	// e.g., MICROBOTS_POOL_WORKERS for pool.workers
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
