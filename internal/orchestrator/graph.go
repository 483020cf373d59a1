package orchestrator

import (
	"cmp"
	"container/heap"
	"fmt"
	"slices"

	"github.com/fentz26/cfagents/internal/models"
)

// taskGraph is the dependency graph of one batch. Edges point from a task to
// the batch tasks it depends on; dependencies outside the batch are kept
// apart and checked against the completed set at dispatch time.
type taskGraph struct {
	tasks    []*models.AgentTask
	index    map[string]int
	edges    map[string][]string
	external map[string][]string
}

func buildGraph(tasks []*models.AgentTask) (*taskGraph, error) {
	g := &taskGraph{
		tasks:    tasks,
		index:    make(map[string]int, len(tasks)),
		edges:    make(map[string][]string, len(tasks)),
		external: make(map[string][]string),
	}
	for i, t := range tasks {
		if _, dup := g.index[t.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		g.index[t.ID] = i
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, inBatch := g.index[dep]; inBatch {
				g.edges[t.ID] = append(g.edges[t.ID], dep)
			} else {
				g.external[t.ID] = append(g.external[t.ID], dep)
			}
		}
	}
	return g, nil
}

// order returns a topological order of the batch. Among tasks whose
// in-batch dependencies are all placed, the lowest priority number goes
// first, then the earliest input position.
func (g *taskGraph) order() ([]*models.AgentTask, error) {
	indegree := make(map[string]int, len(g.tasks))
	dependents := make(map[string][]string)
	for _, t := range g.tasks {
		indegree[t.ID] = len(g.edges[t.ID])
		for _, dep := range g.edges[t.ID] {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	ready := &readyQueue{}
	for i, t := range g.tasks {
		if indegree[t.ID] == 0 {
			heap.Push(ready, readyTask{task: t, index: i})
		}
	}

	out := make([]*models.AgentTask, 0, len(g.tasks))
	for ready.Len() > 0 {
		next := heap.Pop(ready).(readyTask)
		out = append(out, next.task)
		for _, id := range dependents[next.task.ID] {
			indegree[id]--
			if indegree[id] == 0 {
				i := g.index[id]
				heap.Push(ready, readyTask{task: g.tasks[i], index: i})
			}
		}
	}

	if len(out) != len(g.tasks) {
		var stuck []string
		for _, t := range g.tasks {
			if indegree[t.ID] > 0 {
				stuck = append(stuck, t.ID)
			}
		}
		slices.Sort(stuck)
		return nil, fmt.Errorf("%w among %v", ErrCycleDetected, stuck)
	}
	return out, nil
}

type readyTask struct {
	task  *models.AgentTask
	index int
}

type readyQueue []readyTask

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if c := cmp.Compare(q[i].task.Priority, q[j].task.Priority); c != 0 {
		return c < 0
	}
	return q[i].index < q[j].index
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(readyTask)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
