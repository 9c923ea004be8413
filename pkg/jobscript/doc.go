// Package jobscript renders, writes and verifies the shell scripts that run
// jobs.
//
// Build renders Params into the default template (or a custom one). Write puts
// the script on disk and, unless disabled, runs a Verifier: the script is
// executed with IntegrityEnvVar set, which makes the rendered guard exit with
// IntegrityExitCode before any job command runs. Shared and network
// filesystems can expose a new file before it is executable, so the verifier
// retries a bounded number of times.
package jobscript
