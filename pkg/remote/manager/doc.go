// Package manager implements the remote side of job execution on the local
// host: a Manager that stages files into per-job directories and runs
// submitted job scripts in the background, and a FileCache that lets jobs
// share input files.
//
// A Manager is registered with a remote.App, which serves it to both the
// HTTP server and the in-process transport:
//
//	m, err := manager.New("/var/lib/jobs/staging")
//	cache, err := manager.NewFileCache("/var/lib/jobs/cache")
//	app := remote.NewApp(m, remote.WithFileCache(cache))
package manager
