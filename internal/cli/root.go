// Package cli holds the tablebook command tree.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tablebook/internal/config"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

type rootOptions struct {
	configPath string
	envFiles   []string
}

// load reads .env files and the YAML config, then builds the logger it asks for.
func (o *rootOptions) load() (*config.Config, zerolog.Logger, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return nil, zerolog.Nop(), err
	}
	cfg, err := config.Load(config.Path(o.configPath))
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogJSON() {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Str("app", "tablebook").Logger()
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "tablebook",
		Short:         "Restaurant reservations: availability, table allocation and lifecycle scheduling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default $"+config.EnvPath+" or configs/config.yaml)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newExportCmd(opts))
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tablebook %s (commit=%s, built=%s)\n", Version, CommitSHA, BuildDate)
		},
	}
}
