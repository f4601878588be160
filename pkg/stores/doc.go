// Package stores provides the persistence layer for deployment history.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and CRUD operations for deployments, strategy attempts, events, and
// audit logs, plus the Recorder adapter the orchestrator records
// terminal outcomes through.
package stores
