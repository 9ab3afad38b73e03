package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/cloudcost/pkg/config"
	"github.com/pario-ai/cloudcost/pkg/logging"
	"github.com/pario-ai/cloudcost/pkg/store"
)

var version = "dev"

const defaultConfigPath = "cloudcost.yaml"

// globalOptions holds the persistent root flags.
type globalOptions struct {
	configPath string
	verbose    bool
}

func main() {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "cloudcost",
		Short:         "cloudcost: multi-cloud spend tracking and budget alerts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newBudgetCmd(opts),
		newAlertsCmd(opts),
		newCollectCmd(opts),
		newCostCmd(opts),
		newMCPCmd(opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is what every command needs: config, logger and the open database.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

func (e *env) Close() {
	_ = e.store.Close()
	_ = e.logger.Sync()
}

// loadConfig reads the config file. When the default file is absent the
// environment alone configures cloudcost; an explicitly named file must exist.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.FromEnv()
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func setup(cmd *cobra.Command, opts *globalOptions) (*env, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Debug("database opened", zap.String("path", cfg.DBPath))
	return &env{cfg: cfg, logger: logger, store: s}, nil
}
