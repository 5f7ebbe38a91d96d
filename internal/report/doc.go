// Package report flattens job records into rows and renders them as CSV.
package report
