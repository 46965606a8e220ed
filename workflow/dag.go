package workflow

import "fmt"

// nodeStatus tracks a step's position in the DAG scheduler, independent of
// (but kept in sync with) the execution's StepState.
type nodeStatus string

const (
	nodePending   nodeStatus = "pending"
	nodeReady     nodeStatus = "ready"
	nodeRunning   nodeStatus = "running"
	nodeCompleted nodeStatus = "completed"
	nodeFailed    nodeStatus = "failed"
	nodeSkipped   nodeStatus = "skipped"
)

type dagNode struct {
	id              string
	dependencies    []string
	dependents      []string
	status          nodeStatus
	continueOnError bool
}

// dag is the scheduling graph for one workflow execution, grounded in
// orchestration/workflow_dag.go's WorkflowDAG.
type dag struct {
	nodes map[string]*dagNode
	order []string // insertion order, for deterministic iteration
}

func newDAG(def Definition) *dag {
	d := &dag{nodes: make(map[string]*dagNode, len(def.Steps))}
	for _, step := range def.Steps {
		d.nodes[step.ID] = &dagNode{
			id:              step.ID,
			dependencies:    step.Dependencies,
			status:          nodePending,
			continueOnError: step.ContinueOnError,
		}
		d.order = append(d.order, step.ID)
	}
	d.rebuildDependents()
	return d
}

func (d *dag) rebuildDependents() {
	for _, n := range d.nodes {
		n.dependents = nil
	}
	for _, n := range d.nodes {
		for _, depID := range n.dependencies {
			if dep, ok := d.nodes[depID]; ok {
				dep.dependents = append(dep.dependents, n.id)
			}
		}
	}
}

// validateAcyclic runs DFS with a recursion stack, per
// orchestration/workflow_dag.go's Validate.
func (d *dag) validateAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.nodes))
	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		color[id] = gray
		n := d.nodes[id]
		for _, depID := range n.dependencies {
			if _, ok := d.nodes[depID]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", id, depID)
			}
			switch color[depID] {
			case white:
				if err := visit(depID, append(path, depID)); err != nil {
					return err
				}
			case gray:
				return fmt.Errorf("cyclic dependency detected involving step %q", depID)
			}
		}
		color[id] = black
		return nil
	}
	for _, id := range d.order {
		if color[id] == white {
			if err := visit(id, []string{id}); err != nil {
				return err
			}
		}
	}
	return nil
}

// readyNodes returns every node whose dependencies are all resolved and
// which is itself still pending. A dependency is resolved once it is
// completed or skipped; a failed dependency also counts as resolved when it
// was marked continueOnError, so a dependent branch can still proceed and
// the graph remains able to drain (spec.md §4.7).
func (d *dag) readyNodes() []string {
	var ready []string
	for _, id := range d.order {
		n := d.nodes[id]
		if n.status != nodePending {
			continue
		}
		allResolved := true
		for _, depID := range n.dependencies {
			dep := d.nodes[depID]
			resolved := dep.status == nodeCompleted || dep.status == nodeSkipped ||
				(dep.status == nodeFailed && dep.continueOnError)
			if !resolved {
				allResolved = false
				break
			}
		}
		if allResolved {
			ready = append(ready, id)
		}
	}
	return ready
}

func (d *dag) markRunning(id string) { d.nodes[id].status = nodeRunning }

func (d *dag) markCompleted(id string) { d.nodes[id].status = nodeCompleted }

// markFailed marks id failed and, unless continueOnError is true for it,
// recursively skips every transitive dependent so the graph can still
// drain (spec.md §4.7).
func (d *dag) markFailed(id string, continueOnError bool) {
	d.nodes[id].status = nodeFailed
	if continueOnError {
		return
	}
	d.skipDependents(id)
}

func (d *dag) skipDependents(id string) {
	for _, depID := range d.nodes[id].dependents {
		dep := d.nodes[depID]
		if dep.status == nodePending {
			dep.status = nodeSkipped
			d.skipDependents(depID)
		}
	}
}

// isComplete reports whether every node has reached a terminal status.
func (d *dag) isComplete() bool {
	for _, n := range d.nodes {
		if n.status == nodePending || n.status == nodeRunning {
			return false
		}
	}
	return true
}

func (d *dag) hasFailures() bool {
	for _, n := range d.nodes {
		if n.status == nodeFailed {
			return true
		}
	}
	return false
}

func (d *dag) counts() (completed, running, total int) {
	total = len(d.nodes)
	for _, n := range d.nodes {
		switch n.status {
		case nodeCompleted, nodeSkipped, nodeFailed:
			completed++
		case nodeRunning:
			running++
		}
	}
	return
}
