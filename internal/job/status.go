package job

import (
	"sort"
	"strings"

	cerror "github.com/kingrea/shellexec/internal/errors"
)

// Status is the durable lifecycle state of a job.
type Status string

const (
	StatusNone    Status = "NONE"
	StatusWaiting Status = "WAITING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusError   Status = "ERROR"
)

// transitions lists the statuses reachable from each status. RUNNING may fall
// back to WAITING when a crashed invocation left it behind.
var transitions = map[Status][]Status{
	StatusNone:    {StatusWaiting, StatusRunning},
	StatusWaiting: {StatusWaiting, StatusRunning},
	StatusRunning: {StatusDone, StatusError, StatusWaiting},
	StatusDone:    {StatusWaiting},
	StatusError:   {StatusWaiting},
}

// Statuses returns every known status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusNone, StatusWaiting, StatusRunning, StatusDone, StatusError}
}

// ParseStatus converts user input (any case) into a Status.
func ParseStatus(value string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := transitions[candidate]; !ok {
		return "", cerror.ErrInvalidStatus.GenWithStackByArgs(value)
	}
	return candidate, nil
}

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether the status ends a job's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Rank orders statuses by how far along the lifecycle they are. It is used to
// pick a winner when conflicting statuses are recorded for the same job.
func (s Status) Rank() int {
	switch s {
	case StatusWaiting:
		return 1
	case StatusRunning:
		return 2
	case StatusError:
		return 3
	case StatusDone:
		return 4
	default:
		return 0
	}
}

// StatusSet is an unordered set of statuses, e.g. the statuses a caller asks
// to re-run.
type StatusSet map[Status]struct{}

// NewStatusSet builds a set from the given statuses.
func NewStatusSet(statuses ...Status) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, status := range statuses {
		set[status] = struct{}{}
	}
	return set
}

// ParseStatusSet parses a list of status names.
func ParseStatusSet(values []string) (StatusSet, error) {
	set := make(StatusSet, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, err := ParseStatus(value)
		if err != nil {
			return nil, err
		}
		set[status] = struct{}{}
	}
	return set, nil
}

// Has reports whether status is in the set. A nil set is empty.
func (s StatusSet) Has(status Status) bool {
	_, ok := s[status]
	return ok
}

// Slice returns the members ordered by rank.
func (s StatusSet) Slice() []Status {
	out := make([]Status, 0, len(s))
	for status := range s {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}
