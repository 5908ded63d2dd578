// Command chansyncd runs a channel-state server: it accepts peer links and
// client sessions, reconciles channel bursts and serves the admin API.
package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/presbrey/chansync/irc/config"
)

var (
	configSource string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:           "chansyncd",
	Short:         "Channel state synchronization daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %d peers, configuration ok\n",
			cfg.Server.Name, cfg.Server.SID, len(cfg.Links.Peers))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configSource, "config", "c", os.Getenv("CHANSYNC_CONFIG"),
		"configuration file or http(s) URL (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.AddCommand(checkCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configSource)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chansyncd:", err)
		os.Exit(1)
	}
}
