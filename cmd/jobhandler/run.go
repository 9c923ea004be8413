package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdziat/simple-remote-jobs/pkg/config"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/jobscript"
	"github.com/jdziat/simple-remote-jobs/pkg/queue"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
	"github.com/jdziat/simple-remote-jobs/pkg/remote/manager"
	"github.com/jdziat/simple-remote-jobs/pkg/runner"
	"github.com/jdziat/simple-remote-jobs/pkg/schedule"
	"github.com/jdziat/simple-remote-jobs/pkg/worker"
)

var runCmd = &cobra.Command{
	Use:   "run <handler-id>",
	Short: "Run a handler process",
	Long:  "Claim and run jobs bound to the named handler until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE:  runHandler,
}

func init() {
	runCmd.Flags().String("jobs-directory", "database/jobs_directory", "Directory holding one working directory per job")
	runCmd.Flags().String("tool-directory", "tools", "Directory holding tool files")
	runCmd.Flags().String("staging-directory", "database/staging", "Staging root for remote destinations served in-process")
	runCmd.Flags().Bool("outputs-to-working-directory", false, "Write outputs into the job directory and move them afterwards")
	runCmd.Flags().String("shell", jobscript.DefaultShell, "Shell interpreting job scripts")
	runCmd.Flags().Int("concurrency", worker.DefaultConcurrency, "Jobs run at once")
	runCmd.Flags().Duration("poll-interval", worker.DefaultPollInterval, "How often to look for jobs")
	runCmd.Flags().Duration("remote-poll-interval", runner.DefaultPollInterval, "How often to check remote job status")
	runCmd.Flags().Duration("heartbeat-interval", worker.DefaultHeartbeatInterval, "How often to extend job locks")
	runCmd.Flags().Duration("stale-lock-timeout", worker.DefaultStaleLockTimeout, "Release locks older than this")
	runCmd.Flags().String("file-cache-ip", "", "Upload inputs through the remote file cache as this host")
	runCmd.Flags().String("purge-schedule", "", "Cron expression for purging finished jobs (disabled when empty)")
	runCmd.Flags().Duration("purge-after", 7*24*time.Hour, "Age at which finished jobs are purged")

	for _, name := range []string{
		"jobs-directory", "tool-directory", "staging-directory", "outputs-to-working-directory",
		"shell", "concurrency", "poll-interval", "remote-poll-interval", "heartbeat-interval",
		"stale-lock-timeout", "file-cache-ip", "purge-schedule", "purge-after",
	} {
		_ = viper.BindPFlag(name, runCmd.Flags().Lookup(name))
	}

	rootCmd.AddCommand(runCmd)
}

func runHandler(cmd *cobra.Command, args []string) error {
	handlerID := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, queue.WithSelfHandler(handlerID))
	if err != nil {
		return err
	}
	logger := e.logger.With("handler_id", handlerID)

	jobsDir, err := filepath.Abs(viper.GetString("jobs-directory"))
	if err != nil {
		return err
	}
	toolDir, err := filepath.Abs(viper.GetString("tool-directory"))
	if err != nil {
		return err
	}
	settings := runner.Settings{
		JobsDirectory:             jobsDir,
		ToolDirectory:             toolDir,
		GalaxyURL:                 e.cfg.GalaxyURL,
		OutputsToWorkingDirectory: viper.GetBool("outputs-to-working-directory"),
		Shell:                     viper.GetString("shell"),
	}

	writeOpts := []jobscript.WriteOption{jobscript.WithIntegrityConfig(e.cfg.Integrity)}
	app, m, err := inProcessApp(e.cfg.Destinations, writeOpts)
	if err != nil {
		return err
	}
	if m != nil {
		defer m.Close()
	}

	runnerOpts := []runner.Option{
		runner.WithWriteOptions(writeOpts...),
		runner.WithPollInterval(viper.GetDuration("remote-poll-interval")),
		runner.WithRemoteOptions(remote.WithLogger(logger)),
		runner.WithLogger(logger),
	}
	if ip := viper.GetString("file-cache-ip"); ip != "" {
		runnerOpts = append(runnerOpts, runner.WithFileCache(ip))
	}
	dispatcher := runner.NewDispatcher(e.cfg.Destinations, settings, app, runnerOpts...)

	if expr := viper.GetString("purge-schedule"); expr != "" {
		sched, err := schedule.ParseCron(expr)
		if err != nil {
			return fmt.Errorf("purge schedule: %w", err)
		}
		after := viper.GetDuration("purge-after")
		go schedule.Run(ctx, sched, func(ctx context.Context) {
			purge(ctx, e, handlerID, after)
		})
	}

	w := worker.NewWorker(e.queue, handlerID,
		worker.WithRunner(dispatcher),
		worker.Concurrency(viper.GetInt("concurrency")),
		worker.PollInterval(viper.GetDuration("poll-interval")),
		worker.HeartbeatInterval(viper.GetDuration("heartbeat-interval")),
		worker.StaleLocks(viper.GetDuration("stale-lock-timeout"), nil),
		worker.WithLogger(e.logger),
	)

	if err := w.Start(ctx); ctx.Err() == nil {
		return err
	}
	return nil
}

func purge(ctx context.Context, e *env, handlerID string, after time.Duration) {
	cutoff := time.Now().Add(-after)
	for _, state := range []core.JobState{core.StateOK, core.StateError, core.StateDeleted} {
		n, err := e.store.PurgeJobs(ctx, handlerID, state, cutoff)
		if err != nil {
			e.logger.Error("purge failed", "state", state, "error", err)
			continue
		}
		if n > 0 {
			e.logger.Info("purged jobs", "state", state, "count", n)
		}
	}
}

// inProcessApp serves remote destinations that have no URL from a manager
// staging under --staging-directory. Both results are nil when no such
// destination is configured.
func inProcessApp(dests config.DestinationsConfig, writeOpts []jobscript.WriteOption) (*remote.App, *manager.Manager, error) {
	needed := false
	for _, d := range dests.Destinations {
		if d.Runner == config.RunnerRemote && d.URL == "" {
			needed = true
		}
	}
	if !needed {
		return nil, nil, nil
	}

	m, err := manager.New(viper.GetString("staging-directory"), manager.WithWriteOptions(writeOpts...))
	if err != nil {
		return nil, nil, err
	}
	return remote.NewApp(m), m, nil
}
