package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdziat/simple-remote-jobs/pkg/config"
	"github.com/jdziat/simple-remote-jobs/pkg/handlers"
	"github.com/jdziat/simple-remote-jobs/pkg/queue"
	"github.com/jdziat/simple-remote-jobs/pkg/storage"
)

var rootCmd = &cobra.Command{
	Use:           "jobhandler",
	Short:         "Job handler process",
	Long:          "jobhandler claims tool jobs bound to one handler and runs them on their configured destination.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "job_conf.xml", "Job configuration file (XML or YAML)")
	rootCmd.PersistentFlags().String("database", "jobs.db", "SQLite file or PostgreSQL URL")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("database", rootCmd.PersistentFlags().Lookup("database"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	viper.SetEnvPrefix("JOBS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch viper.GetString("log_format") {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", viper.GetString("log_format"))
	}
}

// env bundles what every subcommand needs.
type env struct {
	cfg    *config.JobConfig
	store  *storage.GormStorage
	queue  *queue.Queue
	logger *slog.Logger
}

func setup(ctx context.Context, opts ...queue.QueueOption) (*env, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	registry, err := handlers.FromConfig(cfg.Handlers, handlers.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(viper.GetString("database"))
	if err != nil {
		return nil, err
	}
	store := storage.NewGormStorage(db)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	opts = append([]queue.QueueOption{queue.WithLogger(logger)}, opts...)
	return &env{
		cfg:    cfg,
		store:  store,
		queue:  queue.New(store, registry, opts...),
		logger: logger,
	}, nil
}
