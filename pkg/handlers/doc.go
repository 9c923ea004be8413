// Package handlers provides the handler registry, which maps handler ids and
// tags to the pools of handler processes that serve them.
//
// A handler id is always a pool containing only itself. Tags group handlers
// into larger pools; GetHandler picks one member of a pool deterministically
// from a caller-supplied index.
//
//	reg := handlers.NewRegistry()
//	reg.Register("h0", []string{"batch"})
//	reg.Register("h1", []string{"batch"})
//	reg.ResolveDefault("batch")
//	id, _ := reg.GetHandler("batch", 7) // "h1"
package handlers
