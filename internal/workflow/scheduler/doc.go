// Package scheduler turns resolver snapshots into rounds of job executions.
// Each round dispatches every ready job to a worker pool bounded by the
// configured concurrency, waits for the whole round, and stops with a
// dependency error once a round finds nothing ready.
package scheduler
