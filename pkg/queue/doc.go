// Package queue creates jobs and binds them to handlers.
//
// Enqueue validates the tool id and command line, then assigns the job using
// the registry's method: db-preassign picks a pool member at creation,
// db-skip-locked stores the tag for handlers to claim, and db-self keeps the
// job in the creating process. The Queue also carries lifecycle hooks, an
// event stream, and the registry of jobs running in this process.
//
// Most users should import the root package github.com/jdziat/simple-remote-jobs
// which re-exports Queue and all option functions.
package queue
