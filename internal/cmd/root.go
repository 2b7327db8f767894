package cmd

import (
	"github.com/Iron-Ham/bnbhub/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "bnbhub",
	Short: "Parallel branch-and-bound with hub load balancing",
	Long: `bnbhub runs a branch-and-bound search on a world of simulated processes.

Processes are grouped into clusters; each cluster's hub balances work
between its workers and trades it with the other hubs, while the best
solution found so far is shared with every process. The bundled knapsack
application is the workload.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/bnbhub/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(config.ResolvePath(cfgFile))
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	// e.g. BNBHUB_TOPOLOGY_PROCESSES for topology.processes
	config.BindEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
