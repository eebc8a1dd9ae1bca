package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adrianmcphee/shelf"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DataDir    string
	DBName     string
	Verbose    bool
}

// NewRootCommand creates the root command for the shelf CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "shelf",
		Short: "shelf - local record storage",
		Long: `Inspect and maintain a shelf database: list its stores, report
storage usage, run cleanup, verify indexes and move backups in and out.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "path", "", "directory holding the database file (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.DBName, "db", "", "database name (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewStoresCommand(opts))
	cmd.AddCommand(NewUsageCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewCheckIndexesCommand(opts))
	cmd.AddCommand(NewDeleteDatabaseCommand(opts))

	return cmd
}

// loadConfig resolves the configuration from the config file and flags.
func (o *RootOptions) loadConfig() (shelf.Config, error) {
	cfg := shelf.DefaultConfig("shelf")
	if o.ConfigPath != "" {
		var err error
		if cfg, err = shelf.LoadConfig(o.ConfigPath); err != nil {
			return shelf.Config{}, err
		}
	}
	if o.DBName != "" {
		cfg.DBName = o.DBName
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	// A one-shot command never waits for the timer.
	cfg.CleanupIntervalMs = 0
	return cfg, nil
}

func (o *RootOptions) newLogger() (*zap.Logger, error) {
	if o.Verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// withEngine opens the configured database, runs fn and closes it again.
func (o *RootOptions) withEngine(ctx context.Context, fn func(e *shelf.Engine) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	logger, err := o.newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	engine, err := shelf.New(cfg, shelf.WithLogger(shelf.NewZapLogger(logger)))
	if err != nil {
		return err
	}
	if err := engine.Init(ctx); err != nil {
		return err
	}
	defer engine.Close()

	return fn(engine)
}
