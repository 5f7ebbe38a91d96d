package resolver

import (
	"sort"

	"github.com/kingrea/shellexec/internal/job"
)

// NodeState represents the resolver's understanding of a job's readiness.
type NodeState string

const (
	NodeStateUnknown  NodeState = "unknown"
	NodeStatePending  NodeState = "pending"
	NodeStateReady    NodeState = "ready"
	NodeStateBlocked  NodeState = "blocked"
	NodeStateComplete NodeState = "complete"
)

// BlockReason explains why a blocked job can never become ready.
type BlockReason string

const (
	BlockReasonNone              BlockReason = ""
	BlockReasonMissingDependency BlockReason = "missing-dependency"
	BlockReasonDependencyFailed  BlockReason = "dependency-failed"
	BlockReasonDependencyBlocked BlockReason = "dependency-blocked"
)

// DependencyIndex maps every job to its parents and children. Jobs declare at
// most one parent today, but the index does not rely on it.
type DependencyIndex struct {
	order    []string
	parents  map[string][]string
	children map[string][]string
}

// NewDependencyIndex indexes jobs in the given order.
func NewDependencyIndex(jobs []*job.Job) *DependencyIndex {
	idx := &DependencyIndex{
		order:    make([]string, 0, len(jobs)),
		parents:  make(map[string][]string, len(jobs)),
		children: make(map[string][]string),
	}
	for _, j := range jobs {
		name := j.Name()
		idx.order = append(idx.order, name)
		if _, ok := idx.parents[name]; !ok {
			idx.parents[name] = nil
		}
		if j.HasDependency() {
			idx.parents[name] = append(idx.parents[name], j.Spec.Dep)
			idx.children[j.Spec.Dep] = append(idx.children[j.Spec.Dep], name)
		}
	}
	for _, kids := range idx.children {
		if len(kids) > 1 {
			sort.Strings(kids)
		}
	}
	return idx
}

// Names returns the indexed jobs in declaration order.
func (i *DependencyIndex) Names() []string {
	return append([]string(nil), i.order...)
}

// Has reports whether name is an indexed job.
func (i *DependencyIndex) Has(name string) bool {
	_, ok := i.parents[name]
	return ok
}

// Parents returns the jobs name waits on.
func (i *DependencyIndex) Parents(name string) []string {
	return i.parents[name]
}

// Children returns the jobs waiting on name, sorted.
func (i *DependencyIndex) Children(name string) []string {
	return i.children[name]
}

// Node captures one job plus its dependency metadata.
type Node struct {
	Name         string
	Dependencies []string
	Dependents   []string

	Status    job.Status
	State     NodeState
	BlockedBy []string
}

// Resolver evaluates which jobs can run given the statuses known right now.
type Resolver struct {
	index *DependencyIndex
	nodes map[string]*Node
}

// New constructs a resolver over the index.
func New(index *DependencyIndex) *Resolver {
	nodes := make(map[string]*Node, len(index.order))
	for _, name := range index.order {
		nodes[name] = &Node{
			Name:         name,
			Dependencies: index.Parents(name),
			Dependents:   index.Children(name),
			State:        NodeStateUnknown,
		}
	}
	return &Resolver{index: index, nodes: nodes}
}

// Index returns the dependency index the resolver was built on.
func (r *Resolver) Index() *DependencyIndex {
	return r.index
}

// Nodes returns the nodes in declaration order.
func (r *Resolver) Nodes() []*Node {
	out := make([]*Node, 0, len(r.index.order))
	for _, name := range r.index.order {
		out = append(out, r.nodes[name])
	}
	return out
}

// Node retrieves a specific job node.
func (r *Resolver) Node(name string) (*Node, bool) {
	node, ok := r.nodes[name]
	return node, ok
}

// Refresh re-evaluates readiness. Jobs outside pending were already handled
// in this run and count as complete; a pending job is ready once every
// dependency exists and is DONE.
func (r *Resolver) Refresh(statuses map[string]job.Status, pending map[string]struct{}) {
	for _, node := range r.nodes {
		node.Status = statuses[node.Name]
		node.BlockedBy = nil
		if _, ok := pending[node.Name]; !ok {
			node.State = NodeStateComplete
			continue
		}
		blockers := r.blockers(node, statuses)
		if len(blockers) == 0 {
			node.State = NodeStateReady
		} else {
			node.State = NodeStateBlocked
			node.BlockedBy = blockers
		}
	}
}

// Ready returns nodes that are runnable, in declaration order.
func (r *Resolver) Ready() []*Node {
	var ready []*Node
	for _, name := range r.index.order {
		if node := r.nodes[name]; node.State == NodeStateReady {
			ready = append(ready, node)
		}
	}
	return ready
}

// Blocked returns every blocked node with the reason it is stuck. It is only
// meaningful when Ready is empty, i.e. no further progress is possible.
func (r *Resolver) Blocked() map[string]BlockReason {
	blocked := make(map[string]BlockReason)
	for _, node := range r.nodes {
		if node.State == NodeStateBlocked {
			blocked[node.Name] = r.reason(node)
		}
	}
	return blocked
}

func (r *Resolver) reason(node *Node) BlockReason {
	reason := BlockReasonDependencyBlocked
	for _, dep := range node.BlockedBy {
		parent, ok := r.nodes[dep]
		if !ok {
			return BlockReasonMissingDependency
		}
		if parent.State == NodeStateComplete && parent.Status == job.StatusError {
			reason = BlockReasonDependencyFailed
		}
	}
	return reason
}

func (r *Resolver) blockers(node *Node, statuses map[string]job.Status) []string {
	if len(node.Dependencies) == 0 {
		return nil
	}
	var blockers []string
	for _, dep := range node.Dependencies {
		status, known := statuses[dep]
		if !known || !r.index.Has(dep) || status != job.StatusDone {
			blockers = append(blockers, dep)
		}
	}
	return blockers
}
