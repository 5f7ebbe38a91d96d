package scheduler

import (
	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/job"
)

// Registry holds the job records of one invocation keyed by name. Only the
// dispatcher goroutine touches it during a Run.
type Registry struct {
	order []string
	jobs  map[string]*job.Job
}

// NewRegistry builds a registry, keeping the order jobs are given in.
func NewRegistry(jobs ...*job.Job) (*Registry, error) {
	r := &Registry{
		order: make([]string, 0, len(jobs)),
		jobs:  make(map[string]*job.Job, len(jobs)),
	}
	for _, j := range jobs {
		if _, ok := r.jobs[j.Name()]; ok {
			return nil, cerror.ErrDuplicateJob.GenWithStackByArgs(j.Name())
		}
		r.order = append(r.order, j.Name())
		r.jobs[j.Name()] = j
	}
	return r, nil
}

// Len returns the number of jobs.
func (r *Registry) Len() int {
	return len(r.order)
}

// Names returns job names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Get looks a job up by name.
func (r *Registry) Get(name string) (*job.Job, bool) {
	j, ok := r.jobs[name]
	return j, ok
}

// Jobs returns the jobs in registration order.
func (r *Registry) Jobs() []*job.Job {
	out := make([]*job.Job, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.jobs[name])
	}
	return out
}

// Statuses snapshots the current status of every job.
func (r *Registry) Statuses() map[string]job.Status {
	out := make(map[string]job.Status, len(r.jobs))
	for name, j := range r.jobs {
		out[name] = j.Status()
	}
	return out
}

func (r *Registry) put(j *job.Job) {
	if _, ok := r.jobs[j.Name()]; !ok {
		r.order = append(r.order, j.Name())
	}
	r.jobs[j.Name()] = j
}
