// Package worker runs the asynchronous job pipeline: a polling pool that
// claims pending jobs oldest-first and dispatches them to the ingest,
// index, and docs executors under a fixed concurrency bound.
package worker
