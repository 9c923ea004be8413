// Package remote implements the remote execution interface used to set up,
// submit, monitor, cancel and clean jobs on an execution host, to transfer
// their files and to proxy object-store and file-cache operations.
//
// Commands are named in a fixed catalog that maps each name to a URL path
// template and an HTTP method. Two implementations of Interface accept the
// same catalog and argument shapes:
//
//   - HTTPInterface sends each command to a remote server as one HTTP request
//     to base_url + path + "?" + query, with the private token appended.
//   - LocalInterface calls an in-process App directly.
//
// New selects the implementation from a Destination, so callers never branch
// on the transport:
//
//	iface, err := remote.New(dest)
//	setup, err := remote.Decode[remote.SetupResult](
//		iface.Execute(ctx, remote.CmdSetup, remote.Args{"job_id": id}))
//
// The App holds the remote side: named JobManagers, an optional FileCache and
// an optional ObjectStore. The HTTP server in package server and
// LocalInterface both dispatch through App.Handle and encode results with
// EncodeJSON.
//
// Execute never retries. Failed HTTP calls return *core.TransportError
// carrying the command, the URL without the token and the HTTP status.
package remote
