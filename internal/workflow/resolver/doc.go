// Package resolver contains the dependency resolver core for job runs. It
// indexes the dependency relation between jobs and, given the statuses known
// at a round boundary, decides which pending jobs are ready and why blocked
// jobs cannot progress.
package resolver
