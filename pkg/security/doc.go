// Package security provides validation, sanitization, and limits for the jobs package.
//
// This package includes:
//   - Input validation for tool ids, handler ids and staged file names
//   - Error message sanitization to prevent sensitive data leakage
//   - Clamping functions to enforce safe limits on retries, concurrency and claims
//
// Most users should import the root package github.com/jdziat/simple-remote-jobs
// which re-exports these functions.
package security
