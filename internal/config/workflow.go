package config

import (
	"fmt"
	"os"

	"github.com/fentz26/cfagents/internal/models"
	"gopkg.in/yaml.v3"
)

// Workflow is a list of tasks read from a workflow file.
type Workflow struct {
	Tasks []*models.AgentTask `yaml:"tasks"`
}

// LoadWorkflow reads a workflow file.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	wf, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// ParseWorkflow decodes a workflow document. Missing priorities default to
// models.DefaultTaskPriority; every task starts waiting.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var raw struct {
		Tasks []struct {
			ID         string         `yaml:"id"`
			Agent      string         `yaml:"agent"`
			Action     string         `yaml:"action"`
			Parameters map[string]any `yaml:"parameters"`
			Priority   *int           `yaml:"priority"`
			DependsOn  []string       `yaml:"depends_on"`
		} `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(raw.Tasks) == 0 {
		return nil, fmt.Errorf("%w: workflow has no tasks", ErrInvalidConfig)
	}

	wf := &Workflow{Tasks: make([]*models.AgentTask, 0, len(raw.Tasks))}
	seen := make(map[string]bool, len(raw.Tasks))
	for i, t := range raw.Tasks {
		switch {
		case t.ID == "":
			return nil, fmt.Errorf("%w: task %d has no id", ErrInvalidConfig, i)
		case t.Agent == "":
			return nil, fmt.Errorf("%w: task %q has no agent", ErrInvalidConfig, t.ID)
		case t.Action == "":
			return nil, fmt.Errorf("%w: task %q has no action", ErrInvalidConfig, t.ID)
		case seen[t.ID]:
			return nil, fmt.Errorf("%w: duplicate task id %q", ErrInvalidConfig, t.ID)
		}
		seen[t.ID] = true

		task := models.NewTask(t.ID, t.Agent, t.Action, t.Parameters, t.DependsOn...)
		if t.Priority != nil {
			task.Priority = *t.Priority
		}
		wf.Tasks = append(wf.Tasks, task)
	}
	return wf, nil
}
