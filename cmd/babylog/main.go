package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/babylog/internal/config"
	"github.com/dukerupert/babylog/internal/logging"
)

var (
	configFile string

	v      = config.New()
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "babylog",
	Short:         "Shared caregiving log for a baby's feedings, diapers, sleep and pumping",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, configFile)
		if err != nil {
			return err
		}
		logger = logging.Setup(cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("db-path", "", "SQLite database path (env BABYLOG_DB_PATH)")
	flags.String("log-level", "", "debug, info, warn or error (env BABYLOG_LOG_LEVEL)")
	v.BindPFlag("db_path", flags.Lookup("db-path"))
	v.BindPFlag("log_level", flags.Lookup("log-level"))

	rootCmd.AddCommand(serveCmd, migrateCmd, userCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
