package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jdziat/simple-remote-jobs/pkg/computeenv"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
)

// RemoteRunner stages a job on a remote execution host, submits it, waits for
// it and fetches its outputs.
type RemoteRunner struct {
	client   remote.Interface
	settings Settings
	opts     options
}

var _ Runner = (*RemoteRunner)(nil)

// NewRemoteRunner creates a runner that drives client.
func NewRemoteRunner(client remote.Interface, settings Settings, opts ...Option) *RemoteRunner {
	return &RemoteRunner{client: client, settings: settings, opts: applyOptions(opts)}
}

// Run executes job remotely. When ctx ends while the job runs, the remote job
// is cancelled and ctx's error returned.
func (r *RemoteRunner) Run(ctx context.Context, job *core.Job, rec Recorder) (Result, error) {
	logger := r.opts.logger.With("job_id", job.ID, "tool_id", job.ToolID)
	args := remote.Args{"job_id": job.ID}

	setup, err := remote.Decode[remote.SetupResult](r.client.Execute(ctx, remote.CmdSetup,
		remote.Args{"job_id": job.ID, "tool_id": job.ToolID}))
	if err != nil {
		return Result{}, fmt.Errorf("jobs: remote setup: %w", err)
	}
	externalID := setup.JobID
	if externalID == "" {
		externalID = job.ID
	}
	args["job_id"] = externalID
	if err := rec.ExternalID(ctx, externalID); err != nil {
		return Result{}, err
	}
	if err := rec.WorkingDirectory(ctx, setup.WorkingDirectory); err != nil {
		return Result{}, err
	}

	cleanup := func() {
		if r.opts.keepRemote {
			return
		}
		if _, err := r.client.Execute(context.WithoutCancel(ctx), remote.CmdClean, args); err != nil {
			logger.Warn("remote cleanup failed", "error", err)
		}
	}

	env := computeenv.NewRemote(NewJobIO(job, r.settings), setup.Layout())
	prepared, err := Prepare(job, env, NewJobIO(job, r.settings), r.settings, r.opts.buildOpts...)
	if err != nil {
		cleanup()
		return Result{}, err
	}

	if err := r.stage(ctx, externalID, env); err != nil {
		cleanup()
		return Result{}, err
	}

	launch, err := remote.EncodeJSON(remote.LaunchConfig{
		JobScript:    prepared.Script,
		ScriptName:   ScriptName,
		ExitCodePath: prepared.ExitCodePath,
	})
	if err != nil {
		cleanup()
		return Result{}, err
	}
	if _, err := r.client.Execute(ctx, remote.CmdSubmit, args, remote.WithData(launch)); err != nil {
		cleanup()
		return Result{}, fmt.Errorf("jobs: remote submit: %w", err)
	}
	logger.Info("job submitted to remote host", "external_id", externalID)

	status, err := r.wait(ctx, args)
	if err != nil {
		if isCancelled(ctx, err) {
			if _, cerr := r.client.Execute(context.WithoutCancel(ctx), remote.CmdCancel, args); cerr != nil {
				logger.Warn("remote cancel failed", "error", cerr)
			}
		}
		cleanup()
		return Result{}, err
	}

	switch {
	case status.Status == remote.StatusCancelled:
		cleanup()
		return Result{}, core.NoRetry(fmt.Errorf("%w: remote job %s was cancelled", core.ErrJobCancelled, externalID))
	case status.ReturnCode == nil:
		cleanup()
		return Result{}, fmt.Errorf("jobs: remote job %s ended %s without an exit code", externalID, status.Status)
	}

	if err := r.fetchOutputs(ctx, externalID, env); err != nil {
		cleanup()
		return Result{}, err
	}
	cleanup()

	return Result{
		ExitCode:         *status.ReturnCode,
		ExternalID:       externalID,
		WorkingDirectory: setup.WorkingDirectory,
		Stdout:           status.Stdout,
		Stderr:           status.Stderr,
	}, nil
}

// stage uploads every file the job's rewrites recorded.
func (r *RemoteRunner) stage(ctx context.Context, jobID string, env *computeenv.Remote) error {
	groups := []struct {
		kind  remote.FileKind
		files []computeenv.StagedFile
	}{
		{remote.KindInput, env.StagedInputs()},
		{remote.KindMetadata, env.StagedMetadata()},
		{remote.KindUnstructured, env.StagedUnstructured()},
	}
	for _, g := range groups {
		for _, f := range g.files {
			if err := r.upload(ctx, jobID, g.kind, f); err != nil {
				return fmt.Errorf("jobs: stage %s %s: %w", g.kind, f.Local, err)
			}
		}
	}
	return nil
}

func (r *RemoteRunner) upload(ctx context.Context, jobID string, kind remote.FileKind, f computeenv.StagedFile) error {
	args := remote.Args{"job_id": jobID, "name": f.Name, "type": string(kind)}
	if kind == remote.KindInput && r.opts.cacheIP != "" {
		token, err := r.cached(ctx, f.Local)
		switch {
		case err == nil:
			args["cache_token"] = token
			_, err = r.client.Execute(ctx, remote.CmdUploadFile, args)
			return err
		case ctx.Err() != nil:
			return err
		default:
			r.opts.logger.Warn("file cache unavailable, uploading directly", "job_id", jobID, "path", f.Local, "error", err)
		}
	}
	_, err := r.client.Execute(ctx, remote.CmdUploadFile, args, remote.WithInputPath(f.Local))
	return err
}

// errCacheBusy is returned by cached when another inserter holds the entry
// for longer than the runner is willing to wait.
var errCacheBusy = errors.New("jobs: file cache entry still pending")

// cached makes sure the remote cache holds path and returns its token. When
// another job is inserting the same file, cached waits for it, up to
// the configured number of polls.
func (r *RemoteRunner) cached(ctx context.Context, path string) (string, error) {
	cacheArgs := remote.Args{"ip": r.opts.cacheIP, "path": path}
	for polls := 0; ; polls++ {
		st, err := remote.Decode[remote.CacheStatus](r.client.Execute(ctx, remote.CmdFileAvailable, cacheArgs))
		if err != nil {
			return "", err
		}
		if st.Ready {
			return st.Token, nil
		}
		if polls >= r.opts.cacheWait {
			return "", errCacheBusy
		}
		insert, err := remote.Decode[bool](r.client.Execute(ctx, remote.CmdCacheRequired, cacheArgs))
		if err != nil {
			return "", err
		}
		if insert {
			if _, err := r.client.Execute(ctx, remote.CmdCacheInsert, cacheArgs, remote.WithInputPath(path)); err != nil {
				return "", fmt.Errorf("jobs: cache insert: %w", err)
			}
			continue
		}
		if err := sleep(ctx, r.opts.pollInterval); err != nil {
			return "", err
		}
	}
}

// wait polls status until the remote job is complete.
func (r *RemoteRunner) wait(ctx context.Context, args remote.Args) (remote.StatusResult, error) {
	for {
		st, err := remote.Decode[remote.StatusResult](r.client.Execute(ctx, remote.CmdStatus, args))
		if err != nil {
			if !transient(err) || ctx.Err() != nil {
				return st, err
			}
			r.opts.logger.Warn("remote status check failed", "job_id", args["job_id"], "error", err)
		} else if st.Complete {
			return st, nil
		}
		if err := sleep(ctx, r.opts.pollInterval); err != nil {
			return remote.StatusResult{}, err
		}
	}
}

// fetchOutputs downloads outputs to their dataset paths. Outputs the job did
// not produce are skipped.
func (r *RemoteRunner) fetchOutputs(ctx context.Context, jobID string, env *computeenv.Remote) error {
	for _, f := range env.StagedOutputs() {
		args := remote.Args{"job_id": jobID, "name": f.Name, "type": string(remote.KindOutput)}
		_, err := r.client.Execute(ctx, remote.CmdDownloadOutput, args, remote.WithOutputPath(f.Local))
		switch {
		case err == nil:
		case notFound(err):
			r.opts.logger.Warn("remote job did not produce output", "job_id", jobID, "output", f.Name)
		default:
			return fmt.Errorf("jobs: fetch output %s: %w", f.Name, err)
		}
	}
	return nil
}

// transient reports whether a failed call may succeed when repeated.
func transient(err error) bool {
	var te *core.TransportError
	return errors.As(err, &te) && (te.StatusCode == 0 || te.StatusCode >= http.StatusInternalServerError)
}

// notFound reports whether a download failed because the file is missing.
func notFound(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
