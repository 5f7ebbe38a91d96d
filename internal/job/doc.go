// Package job holds the job record: the immutable spec of a shell job joined
// with the mutable state the executor updates while it runs. The status
// lifecycle is NONE -> WAITING -> RUNNING -> DONE | ERROR, and terminal
// statuses only move back to WAITING on an explicit re-run.
package job
