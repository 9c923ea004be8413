package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdziat/simple-remote-jobs/pkg/jobscript"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
	"github.com/jdziat/simple-remote-jobs/pkg/remote/manager"
	"github.com/jdziat/simple-remote-jobs/pkg/remote/objectstore"
	"github.com/jdziat/simple-remote-jobs/pkg/remote/server"
)

var rootCmd = &cobra.Command{
	Use:           "remoted",
	Short:         "Remote job execution server",
	Long:          "remoted stages, runs and cleans up jobs submitted by job handlers on other hosts.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          serve,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.Flags()
	flags.String("listen", ":8913", "Address to listen on")
	flags.String("private-token", "", "Token every request must carry (open when empty)")
	flags.String("staging-directory", "staging", "Staging root of the default manager")
	flags.StringArray("manager", nil, "Additional named manager as name=staging-directory (repeatable)")
	flags.Int("max-concurrent", 0, "Jobs each manager runs at once (unlimited when zero)")
	flags.Bool("integrity-check", true, "Verify job scripts are executable before running them")
	flags.String("file-cache-directory", "", "Enable the input file cache under this directory")
	flags.String("object-store", "", "Object store backend (disk, minio; disabled when empty)")
	flags.String("object-store-directory", "objects", "Root of the disk object store")
	flags.String("minio-endpoint", "", "MinIO host:port")
	flags.String("minio-access-key", "", "MinIO access key")
	flags.String("minio-secret-key", "", "MinIO secret key")
	flags.String("minio-region", "", "MinIO region")
	flags.String("minio-bucket", "", "MinIO bucket")
	flags.String("minio-prefix", "", "Prefix for object keys")
	flags.Bool("minio-use-ssl", false, "Connect to MinIO over TLS")
	flags.Duration("graceful-period", server.DefaultGracefulPeriod, "Time allowed for in-flight requests on shutdown")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")

	for _, name := range []string{
		"listen", "private-token", "staging-directory", "manager", "max-concurrent", "integrity-check",
		"file-cache-directory", "object-store", "object-store-directory", "graceful-period",
		"log-level", "log-format",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	for _, key := range []string{"endpoint", "access-key", "secret-key", "region", "bucket", "prefix", "use-ssl"} {
		_ = viper.BindPFlag("minio."+strings.ReplaceAll(key, "-", "_"), flags.Lookup("minio-"+key))
	}
}

func initConfig() {
	viper.SetEnvPrefix("JOBS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch viper.GetString("log-format") {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", viper.GetString("log-format"))
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger()
	if err != nil {
		return err
	}

	app, managers, err := buildApp(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, m := range managers {
			_ = m.Close()
		}
	}()

	srv := server.New(app,
		server.WithPrivateToken(viper.GetString("private-token")),
		server.WithGracefulPeriod(viper.GetDuration("graceful-period")),
		server.WithLogger(logger),
	)
	addr := viper.GetString("listen")
	logger.Info("remote server listening", "address", addr, "managers", app.ManagerNames())
	return srv.Start(ctx, server.OnAddress(addr))
}

// buildApp creates the default manager, any named managers, and the optional
// file cache and object store.
func buildApp(ctx context.Context, logger *slog.Logger) (*remote.App, []*manager.Manager, error) {
	var writeOpts []jobscript.WriteOption
	if !viper.GetBool("integrity-check") {
		writeOpts = append(writeOpts, jobscript.WithoutIntegrityCheck())
	}
	newManager := func(name, dir string) (*manager.Manager, error) {
		opts := []manager.Option{
			manager.WithWriteOptions(writeOpts...),
			manager.WithLogger(logger.With("manager", name)),
		}
		if n := viper.GetInt("max-concurrent"); n > 0 {
			opts = append(opts, manager.WithMaxConcurrent(n))
		}
		return manager.New(dir, opts...)
	}

	def, err := newManager(remote.DefaultManagerName, viper.GetString("staging-directory"))
	if err != nil {
		return nil, nil, err
	}
	managers := []*manager.Manager{def}
	closeAll := func() {
		for _, m := range managers {
			_ = m.Close()
		}
	}

	appOpts := []remote.AppOption{remote.WithAppLogger(logger)}
	for _, spec := range viper.GetStringSlice("manager") {
		name, dir, ok := strings.Cut(spec, "=")
		if !ok || name == "" || dir == "" {
			closeAll()
			return nil, nil, fmt.Errorf("manager %q must be name=staging-directory", spec)
		}
		m, err := newManager(name, dir)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		managers = append(managers, m)
		appOpts = append(appOpts, remote.WithManager(name, m))
	}

	if dir := viper.GetString("file-cache-directory"); dir != "" {
		cache, err := manager.NewFileCache(dir, manager.WithCacheLogger(logger))
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		appOpts = append(appOpts, remote.WithFileCache(cache))
	}

	store, err := objectStore(ctx)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	if store != nil {
		appOpts = append(appOpts, remote.WithObjectStore(store))
	}

	return remote.NewApp(def, appOpts...), managers, nil
}

func objectStore(ctx context.Context) (remote.ObjectStore, error) {
	switch backend := viper.GetString("object-store"); backend {
	case "":
		return nil, nil
	case "disk":
		return objectstore.NewDiskStore(viper.GetString("object-store-directory"))
	case "minio":
		var settings struct {
			Minio objectstore.Config `mapstructure:"minio"`
		}
		if err := viper.Unmarshal(&settings); err != nil {
			return nil, fmt.Errorf("minio config: %w", err)
		}
		return objectstore.NewMinioStore(ctx, settings.Minio)
	default:
		return nil, fmt.Errorf("unknown object store %q", backend)
	}
}
