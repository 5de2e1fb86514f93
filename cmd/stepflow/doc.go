// Command stepflow runs the durable workflow engine as an HTTP service:
// workflow run management, job progress polling, health probes, and
// Prometheus metrics, backed by a memory, Redis, SQLite, or PostgreSQL
// store.
package main
