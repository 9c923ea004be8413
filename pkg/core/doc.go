// Package core provides the fundamental types and interfaces for the jobs package.
//
// This package contains:
//   - Job and JobDataset data models with GORM annotations
//   - Storage interface defining the persistence contract used for handler assignment
//   - Event types for dispatch monitoring
//   - The error taxonomy shared by the handler registry, job scripts and remote transports
//
// Most users should import the root package github.com/jdziat/simple-remote-jobs
// instead of this package directly.
package core
