// Command inreach sends personalised connection requests to a list of
// profiles, one at a time, within a daily quota.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"inreach/internal/config"
	"inreach/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string
	envFile    string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "inreach",
	Short: "Quota-gated connection requests from a profile list",
	Long: `inreach walks a list of profiles in a CSV or SQLite store, opens each one in
an authenticated headless browser and sends a connection request with a
personalised note when one is available.

Every attempt is written back to the store immediately, and successful sends
count against a daily quota that survives restarts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err = logging.Initialize(logging.Options{
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.Format == "json",
			File:       cfg.Logging.File,
			DebugMode:  verbose || cfg.Logging.DebugMode,
			Categories: cfg.Logging.Categories,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Boot("config loaded from %s", configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file with LINKEDIN_COOKIE and overrides")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
