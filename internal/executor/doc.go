// Package executor runs a single job: every command goes through sh -c in the
// job directory with its output appended to se_console.log, and the outcome is
// persisted through the workspace store.
package executor
