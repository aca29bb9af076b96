package cmd

import (
	"strings"

	"github.com/Iron-Ham/tasktree/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "tasktree",
	Short: "Modpack installer built on a cancellable task tree",
	Long: `Tasktree installs Minecraft modpacks by running each install as a tree
of tasks: download URLs are resolved in adaptive batches, files are fetched
in parallel and progress is reported in periodic batches.`,
	SilenceUsage: true,
}

// Execute runs the tasktree CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/tasktree/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TASKTREE")
	// resolver.max_batch reads TASKTREE_RESOLVER_MAX_BATCH.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing file leaves defaults and TASKTREE_* env in effect.
	_ = viper.ReadInConfig()
}
