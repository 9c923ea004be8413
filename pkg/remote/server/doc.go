// Package server serves a remote.App over HTTP so that an HTTPInterface on
// another host can drive it.
//
// Every command of the remote catalog is routed by its method and path, once
// at the root for the default manager and once below /managers/:manager/.
// Results are JSON; download_output streams the file. Errors map to HTTP
// statuses through remote.HTTPStatus.
//
//	srv := server.New(app, server.WithPrivateToken(token))
//	err := srv.Start(ctx, server.OnAddress(":8913"))
package server
