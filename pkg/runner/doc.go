// Package runner prepares and executes jobs.
//
// Prepare rewrites a job's command line for its compute environment and
// renders the job script. LocalRunner executes that script on the handler
// host; RemoteRunner stages inputs on a remote execution host through a
// remote.Interface, submits the script, polls until the job completes and
// downloads its outputs. Dispatcher picks between them by the job's
// destination.
//
//	d := runner.NewDispatcher(cfg.Destinations, settings, app)
//	res, err := d.Run(ctx, job, runner.NopRecorder{})
package runner
