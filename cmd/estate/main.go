// Command estate keeps the property-management data in step across the JSON
// document, the CSV directory and the SQL database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/config"
	"github.com/DavNight89/adminEstate/internal/estate/backend"
	"github.com/DavNight89/adminEstate/internal/logging"
	"github.com/DavNight89/adminEstate/internal/ui"
)

var (
	cfgFile  string
	logLevel string

	// set by PersistentPreRunE for every command
	cfg      *config.Config
	logger   *zap.Logger
	registry *backend.Registry
	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "estate",
	Short: "Sync, deduplicate and analyse property-management data",
	Long: `estate keeps the property, tenant, work order and transaction collections
consistent across three stores:

  json  the JSON document the web front end reads (data.json)
  csv   one CSV file per collection, for spreadsheets
  db    a SQLite or Postgres database

Configuration is read from estate.yaml (current directory or
~/.config/estate), ESTATE_* environment variables and .env.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.New(cfgFile))
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger, closeLog, err = logging.New(logging.Options{
			Level:     cfg.Log.Level,
			Format:    cfg.Log.Format,
			File:      cfg.Log.File,
			MaxSizeMB: cfg.Log.MaxSizeMB,
		})
		if err != nil {
			return err
		}
		if cfg.File != "" {
			logger.Debug("config loaded", zap.String("file", cfg.File))
		}
		registry = backend.NewRegistry(backend.FromConfig(cfg), logger)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return shutdown()
	},
}

func shutdown() error {
	var errs []error
	if registry != nil {
		errs = append(errs, registry.Close())
		registry = nil
	}
	if closeLog != nil {
		errs = append(errs, closeLog())
		closeLog = nil
	}
	return errors.Join(errs...)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./estate.yaml or ~/.config/estate/estate.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Data quality:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
		&cobra.Group{ID: "server", Title: "Services:"},
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		// PersistentPostRunE does not run after a failed command
		_ = shutdown()
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFailIcon(), ui.RenderFail(err.Error()))
		os.Exit(1)
	}
}
