// Package statusserver serves the run summary, the per-job report and the
// prometheus metrics of a workspace as JSON over HTTP.
package statusserver
