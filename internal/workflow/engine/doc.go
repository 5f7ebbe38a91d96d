// Package engine is the entry point for running a set of job definitions: it
// records the manifest, rebuilds job records from the workspace, drives the
// scheduler and keeps a summary of the latest run next to the jobs.
package engine
