package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/queue"
	"github.com/jdziat/simple-remote-jobs/pkg/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per handler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		stats, err := e.store.GetHandlerStats(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HANDLER\tNEW\tQUEUED\tRUNNING\tOK\tERROR\tDELETED")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
				s.Handler, s.New, s.Queued, s.Running, s.OK, s.Error, s.Deleted)
		}
		return tw.Flush()
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter := storage.JobFilter{}
		state, _ := cmd.Flags().GetString("state")
		filter.State = core.JobState(state)
		filter.Handler, _ = cmd.Flags().GetString("handler")
		filter.ToolID, _ = cmd.Flags().GetString("tool")
		filter.Search, _ = cmd.Flags().GetString("search")
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		filter.Offset, _ = cmd.Flags().GetInt("offset")

		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		jobs, total, err := e.store.SearchJobs(cmd.Context(), filter)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTOOL\tSTATE\tHANDLER\tDESTINATION\tEXIT\tCREATED")
		for _, j := range jobs {
			exit := "-"
			if j.ExitCode != nil {
				exit = fmt.Sprint(*j.ExitCode)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				j.ID, j.ToolID, j.State, j.Handler, j.Destination, exit, j.CreatedAt.Format(time.RFC3339))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d jobs\n", len(jobs), total)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job and its datasets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		j, err := e.store.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:          %s\n", j.ID)
		fmt.Fprintf(out, "tool:        %s %s\n", j.ToolID, j.ToolVersion)
		fmt.Fprintf(out, "state:       %s\n", j.State)
		fmt.Fprintf(out, "handler:     %s\n", j.Handler)
		fmt.Fprintf(out, "destination: %s\n", j.Destination)
		fmt.Fprintf(out, "attempt:     %d/%d\n", j.Attempt, j.MaxRetries+1)
		if j.ExitCode != nil {
			fmt.Fprintf(out, "exit code:   %d\n", *j.ExitCode)
		}
		if j.WorkingDirectory != "" {
			fmt.Fprintf(out, "working dir: %s\n", j.WorkingDirectory)
		}
		if j.ExternalID != "" {
			fmt.Fprintf(out, "external id: %s\n", j.ExternalID)
		}
		if j.LastError != "" {
			fmt.Fprintf(out, "last error:  %s\n", j.LastError)
		}
		fmt.Fprintf(out, "command:     %s\n", j.CommandLine)
		for _, d := range j.Datasets {
			kind := "input"
			if d.IsOutput {
				kind = "output"
			}
			fmt.Fprintf(out, "%-12s %s=%s\n", kind+":", d.Name, d.Path)
		}
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Requeue a failed or cancelled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		j, err := e.store.RetryJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", j.ID, j.State)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		return e.queue.Cancel(cmd.Context(), args[0])
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Permanently remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		return e.store.DeleteJob(cmd.Context(), args[0])
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished jobs older than a cutoff",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		state, _ := cmd.Flags().GetString("state")
		handler, _ := cmd.Flags().GetString("handler")
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		n, err := e.store.PurgeJobs(cmd.Context(), handler, core.JobState(state), time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d jobs\n", n)
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <tool-id> <command-line>",
	Short: "Create a job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		handler, _ := cmd.Flags().GetString("handler")
		self, _ := cmd.Flags().GetString("self")
		destination, _ := cmd.Flags().GetString("destination")
		retries, _ := cmd.Flags().GetInt("retries")
		delay, _ := cmd.Flags().GetDuration("delay")
		inputs, _ := cmd.Flags().GetStringArray("input")
		outputs, _ := cmd.Flags().GetStringArray("output")

		opts := []queue.Option{queue.Retries(retries)}
		if handler != "" {
			opts = append(opts, queue.Handler(handler))
		}
		if destination != "" {
			opts = append(opts, queue.Destination(destination))
		}
		if delay > 0 {
			opts = append(opts, queue.Delay(delay))
		}
		hid := 0
		for _, spec := range inputs {
			name, path, err := datasetFlag(spec)
			if err != nil {
				return err
			}
			hid++
			opts = append(opts, queue.Input(name, path, hid))
		}
		for _, spec := range outputs {
			name, path, err := datasetFlag(spec)
			if err != nil {
				return err
			}
			hid++
			opts = append(opts, queue.Output(name, path, hid))
		}

		var queueOpts []queue.QueueOption
		if self != "" {
			queueOpts = append(queueOpts, queue.WithSelfHandler(self))
		}
		e, err := setup(cmd.Context(), queueOpts...)
		if err != nil {
			return err
		}
		id, err := e.queue.Enqueue(cmd.Context(), args[0], args[1], opts...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

// datasetFlag splits a name=path flag value.
func datasetFlag(spec string) (string, string, error) {
	name, path, ok := strings.Cut(spec, "=")
	if !ok || name == "" || path == "" {
		return "", "", fmt.Errorf("dataset %q must be name=path", spec)
	}
	return name, path, nil
}

func init() {
	listCmd.Flags().String("state", "", "Only jobs in this state")
	listCmd.Flags().String("handler", "", "Only jobs bound to this handler id or tag")
	listCmd.Flags().String("tool", "", "Only jobs of this tool")
	listCmd.Flags().String("search", "", "Substring of the job id or command line")
	listCmd.Flags().Int("limit", 50, "Maximum jobs listed")
	listCmd.Flags().Int("offset", 0, "Jobs skipped")

	purgeCmd.Flags().String("state", string(core.StateOK), "Terminal state to purge")
	purgeCmd.Flags().String("handler", "", "Only jobs bound to this handler")
	purgeCmd.Flags().Duration("older-than", 7*24*time.Hour, "Minimum age since completion")

	enqueueCmd.Flags().String("handler", "", "Handler id or tag (default from configuration)")
	enqueueCmd.Flags().String("self", "", "Handler id of this process for db-self assignment")
	enqueueCmd.Flags().String("destination", "", "Destination id (default from configuration)")
	enqueueCmd.Flags().Int("retries", 0, "Retries after a runner error")
	enqueueCmd.Flags().Duration("delay", 0, "Do not run before this delay has passed")
	enqueueCmd.Flags().StringArray("input", nil, "Input dataset as name=path (repeatable)")
	enqueueCmd.Flags().StringArray("output", nil, "Output dataset as name=path (repeatable)")

	rootCmd.AddCommand(statsCmd, listCmd, showCmd, retryCmd, cancelCmd, deleteCmd, purgeCmd, enqueueCmd)
}

