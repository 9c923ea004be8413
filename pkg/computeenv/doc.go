// Package computeenv translates a job's dataset and directory paths into the
// paths the job sees on the host where it executes.
//
// Shared serves jobs on a filesystem shared with the controlling host. Remote
// serves jobs staged onto a remote execution host and records every file it
// rewrites so the runner can transfer it.
package computeenv
