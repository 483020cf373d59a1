package orchestrator

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/fentz26/cfagents/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ExecuteWorkflow makes one pass over the tasks in ascending priority order
// (stable for ties). A task runs only when every dependency is already in
// the completed set; otherwise it is skipped and stays waiting. Tasks for
// unknown or busy agents are skipped as well. Results are returned in
// dispatch order and contain only dispatched tasks. Nil entries are ignored.
//
// A task whose dependency completes later in the same pass is not
// revisited; use ExecuteGraph to run a batch in dependency order.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, tasks []*models.AgentTask) []models.TaskResult {
	ordered := withoutNil(tasks)
	slices.SortStableFunc(ordered, func(a, b *models.AgentTask) int {
		return cmp.Compare(a.Priority, b.Priority)
	})

	o.logger.Info("executing workflow", "tasks", len(ordered))

	var results []models.TaskResult
	for _, task := range ordered {
		if missing := o.unmetDependencies(task.Dependencies); len(missing) > 0 {
			o.skip(task, fmt.Sprintf("dependencies not met: %v", missing))
			continue
		}
		if res, ok := o.dispatch(ctx, task); ok {
			results = append(results, res)
		}
	}
	return results
}

// ExecuteParallel runs every task concurrently, bounded by MaxParallel,
// without dependency checks. Tasks for the same agent run one after another
// in input order. The result at index i belongs to tasks[i]; tasks that
// cannot start, including nil entries, get a failed result. It returns once
// every task has finished.
func (o *Orchestrator) ExecuteParallel(ctx context.Context, tasks []*models.AgentTask) []models.TaskResult {
	results := make([]models.TaskResult, len(tasks))
	sem := semaphore.NewWeighted(int64(o.cfg.MaxParallel))

	o.logger.Info("executing parallel tasks", "tasks", len(tasks), "max_parallel", o.cfg.MaxParallel)

	// Each task waits for the previous task of its agent to finish.
	turns := make([]chan struct{}, len(tasks))
	prev := make([]chan struct{}, len(tasks))
	last := make(map[string]chan struct{})
	for i, task := range tasks {
		turns[i] = make(chan struct{})
		if task == nil {
			continue
		}
		prev[i] = last[task.AgentName]
		last[task.AgentName] = turns[i]
	}

	var g errgroup.Group
	for i, task := range tasks {
		g.Go(func() error {
			defer close(turns[i])
			if task == nil {
				results[i] = failedRecord(&models.AgentTask{}, "nil task")
				return nil
			}
			if prev[i] != nil {
				<-prev[i]
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = o.refused(task, fmt.Sprintf("not started: %v", err))
				return nil
			}
			defer sem.Release(1)

			res, err := o.RunTask(ctx, task)
			if err != nil {
				results[i] = failedRecord(task, err.Error())
				return nil
			}
			results[i] = res
			return nil
		})
	}
	// Workers never return an error; Wait only joins them.
	_ = g.Wait()
	return results
}

// ExecuteGraph runs a batch in dependency order. Within the batch, ready
// tasks run lowest priority number first, then in input order. A
// dependency outside the batch must already be completed. Tasks whose
// dependency failed or was skipped are skipped. A cycle in the batch is
// reported before anything runs. Nil entries are ignored.
func (o *Orchestrator) ExecuteGraph(ctx context.Context, tasks []*models.AgentTask) ([]models.TaskResult, error) {
	g, err := buildGraph(withoutNil(tasks))
	if err != nil {
		return nil, err
	}
	ordered, err := g.order()
	if err != nil {
		o.logger.Error("workflow rejected", "error", err)
		return nil, err
	}

	o.logger.Info("executing workflow graph", "tasks", len(ordered))

	succeeded := make(map[string]bool, len(ordered))
	var results []models.TaskResult
	for _, task := range ordered {
		if reason := o.graphBlocker(g, task, succeeded); reason != "" {
			o.skip(task, reason)
			continue
		}
		res, ok := o.dispatch(ctx, task)
		if !ok {
			continue
		}
		results = append(results, res)
		if res.Succeeded() {
			succeeded[task.ID] = true
		}
	}
	return results, nil
}

func (o *Orchestrator) graphBlocker(g *taskGraph, task *models.AgentTask, succeeded map[string]bool) string {
	for _, dep := range g.edges[task.ID] {
		if !succeeded[dep] {
			return fmt.Sprintf("dependency %s did not complete", dep)
		}
	}
	if missing := o.unmetDependencies(g.external[task.ID]); len(missing) > 0 {
		return fmt.Sprintf("dependencies not met: %v", missing)
	}
	return ""
}

// RunQueued drains the submitted-task queue through ExecuteWorkflow. Tasks
// that were skipped and are still waiting go back on the queue, ahead of
// anything submitted meanwhile.
func (o *Orchestrator) RunQueued(ctx context.Context) []models.TaskResult {
	o.queueMu.Lock()
	batch := o.queue
	o.queue = nil
	o.queueMu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	results := o.ExecuteWorkflow(ctx, batch)

	var requeue []*models.AgentTask
	for _, t := range batch {
		if t.Status == models.TaskStatusWaiting {
			requeue = append(requeue, t)
		}
	}
	if len(requeue) > 0 {
		o.queueMu.Lock()
		o.queue = append(requeue, o.queue...)
		o.queueMu.Unlock()
	}
	return results
}

// RunTask runs one task on its agent, records the result and writes the
// dispatch decision. A task that cannot start is logged as skipped and the
// refusal is returned.
func (o *Orchestrator) RunTask(ctx context.Context, task *models.AgentTask) (models.TaskResult, error) {
	agent, found := o.Agent(task.AgentName)
	if !found {
		err := fmt.Errorf("%w: %s", ErrAgentNotFound, task.AgentName)
		o.skip(task, err.Error())
		return models.TaskResult{}, err
	}

	res, err := agent.Execute(ctx, task)
	if err != nil {
		o.skip(task, err.Error())
		return models.TaskResult{}, err
	}

	o.record(res)
	o.audit("task.dispatch", dispatchInputs(task), string(res.Status), task.ID, res.Error)
	return res, nil
}

// dispatch runs a task on its agent. ok is false when the task was skipped.
func (o *Orchestrator) dispatch(ctx context.Context, task *models.AgentTask) (models.TaskResult, bool) {
	res, err := o.RunTask(ctx, task)
	return res, err == nil
}

func (o *Orchestrator) skip(task *models.AgentTask, reason string) {
	o.logger.Warn("task skipped", "task_id", task.ID, "agent", task.AgentName, "reason", reason)
	o.audit("task.skip", dispatchInputs(task), "skipped", task.ID, reason)
}

// refused builds the failed record ExecuteParallel returns for a task that
// never started. The task keeps its status.
func (o *Orchestrator) refused(task *models.AgentTask, reason string) models.TaskResult {
	o.skip(task, reason)
	return failedRecord(task, reason)
}

func failedRecord(task *models.AgentTask, reason string) models.TaskResult {
	now := time.Now().UTC()
	return models.TaskResult{
		TaskID:     task.ID,
		Agent:      task.AgentName,
		Action:     task.Action,
		Status:     models.ResultFailed,
		Error:      reason,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func (o *Orchestrator) unmetDependencies(deps []string) []string {
	o.doneMu.Lock()
	defer o.doneMu.Unlock()

	var missing []string
	for _, dep := range deps {
		if !o.completed[dep] {
			missing = append(missing, dep)
		}
	}
	return missing
}

func withoutNil(tasks []*models.AgentTask) []*models.AgentTask {
	out := make([]*models.AgentTask, 0, len(tasks))
	for _, t := range tasks {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func dispatchInputs(task *models.AgentTask) map[string]any {
	return map[string]any{
		"task_id":    task.ID,
		"agent":      task.AgentName,
		"action":     task.Action,
		"parameters": task.Parameters,
		"depends_on": task.Dependencies,
	}
}
