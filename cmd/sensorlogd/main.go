// sensorlogd is the sensor record logger daemon and query tool.
package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage"
	"github.com/xtxerr/sensorlog/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

// app holds state shared by all subcommands.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg       *config.Config
	logCloser io.Closer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "sensorlogd",
		Short:         "Rotating, archiving sensor record logger",
		Long:          "sensorlogd stores sensor readings in rotating CSV files, archives rotated files as zip containers and answers time-range queries across live and archived storage.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json (overrides config)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newQueryCmd(a),
		newSummaryCmd(a),
		newExportCmd(a),
		newRotateCmd(a),
		newSweepCmd(a),
	)

	return rootCmd
}

// setup loads the configuration and initializes logging.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}

	// CLI overrides
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	closer, err := logging.InitWithOptions(cfg.LoggingOptions())
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	a.cfg = cfg
	a.logCloser = closer
	return nil
}

// loadConfig reads path. A missing default file falls back to defaults plus
// environment overrides; a missing explicit file is an error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg = config.DefaultConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// service creates the storage service from the loaded configuration.
func (a *app) service() (*storage.Service, error) {
	svc, err := storage.New(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}
	return svc, nil
}
