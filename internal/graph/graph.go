// Package graph builds the dependency DAG from a validated workflow and
// computes a topological order and a level partition (max antichains by
// longest-path-from-source). It is adapted from the teacher's
// dag_engine.go buildDAG/Kahn's-algorithm pair, generalized to expose every
// level (not just the root level) since the scheduler needs the whole
// partition, not just the tasks with no dependencies.
package graph

import (
	"sort"

	"github.com/zoza1982/picoflow-sub000/internal/workflow"
	"github.com/zoza1982/picoflow-sub000/internal/xerrors"
)

// Graph is the built dependency graph of a single workflow.
type Graph struct {
	order  []workflow.NameId   // topological order
	levels [][]workflow.NameId // level partition, L0 first
}

// TopoOrder returns the tasks in a deterministic topological order, used
// for traversal when concurrency is 1.
func (g *Graph) TopoOrder() []workflow.NameId { return g.order }

// Levels returns the level partition: Levels()[0] are tasks with no
// dependencies, Levels()[i+1] are tasks whose dependencies are all
// contained in Levels()[0..i].
func (g *Graph) Levels() [][]workflow.NameId { return g.levels }

// Build constructs the graph for wf's tasks. It returns *xerrors.CycleDetected
// if the dependency relation has a cycle, naming every task that never
// reached in-degree zero.
func Build(wf *workflow.Workflow) (*Graph, error) {
	indegree := make(map[workflow.NameId]int, len(wf.Tasks))
	children := make(map[workflow.NameId][]workflow.NameId, len(wf.Tasks))
	for _, t := range wf.Tasks {
		indegree[t.Name] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			children[dep] = append(children[dep], t.Name)
		}
	}

	// Deterministic traversal: process each level in name order, not map
	// iteration order.
	remaining := make(map[workflow.NameId]int, len(indegree))
	for k, v := range indegree {
		remaining[k] = v
	}

	var order []workflow.NameId
	var levels [][]workflow.NameId

	for len(order) < len(wf.Tasks) {
		var level []workflow.NameId
		for name, deg := range remaining {
			if deg == 0 {
				level = append(level, name)
			}
		}
		if len(level) == 0 {
			// No zero-in-degree node remains but tasks are left: a cycle.
			var stranded []string
			for name := range remaining {
				stranded = append(stranded, string(name))
			}
			sort.Strings(stranded)
			return nil, &xerrors.CycleDetected{Nodes: stranded}
		}
		sort.Slice(level, func(i, j int) bool { return level[i] < level[j] })

		for _, name := range level {
			delete(remaining, name)
			order = append(order, name)
			for _, child := range children[name] {
				remaining[child]--
			}
		}
		levels = append(levels, level)
	}

	return &Graph{order: order, levels: levels}, nil
}
