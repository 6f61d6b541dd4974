package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/srhall/gitcrew/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "gitcrew",
	Short: "Parallel agent orchestrator over git worktrees",
	Long: `Gitcrew runs multiple autonomous development workers in parallel, each in
its own git worktree and branch, then merges their branches sequentially
into an integration branch, resolving textual conflicts automatically
where possible.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/gitcrew/config.yaml)")
	rootCmd.PersistentFlags().String("repo", "", "repository path (default is the current directory)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("repo", rootCmd.PersistentFlags().Lookup("repo"))
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
		viper.AddConfigPath("$HOME/.config/gitcrew")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GITCREW")
	// Replace dots with underscores for nested keys in env vars
	// e.g., GITCREW_BACKEND_MODEL for backend.model
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
