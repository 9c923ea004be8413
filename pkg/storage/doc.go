// Package storage provides the persistent job-state store.
//
// GormStorage implements core.Storage on top of GORM and works with SQLite
// and PostgreSQL. It is the only place where handler processes coordinate:
// ClaimJobs moves jobs from a tag to a concrete handler, Dequeue locks a job
// for one worker, and Heartbeat keeps that lock alive. On PostgreSQL both
// claim and dequeue use FOR UPDATE SKIP LOCKED.
//
// Most callers open a database with Open and wrap it with NewGormStorage.
package storage
