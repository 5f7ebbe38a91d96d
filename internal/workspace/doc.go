// Package workspace implements the on-disk workspace shared by every
// invocation: per-job directories holding rerun.sh, the console log, the
// durable record and user results, a manifest of the latest job definitions,
// and a pluggable store for job statuses (marker files or goleveldb).
package workspace
