package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/cfagents/internal/config"
	"github.com/fentz26/cfagents/internal/controlplane"
	"github.com/fentz26/cfagents/internal/logging"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	return &config.Settings{
		ConfigDir: filepath.Join("..", "..", "configs"),
		DBPath:    filepath.Join(t.TempDir(), "cfagents.db"),
		Log:       logging.Config{Level: "error", Format: "text", Output: "stderr"},
		Orchestrator: config.OrchestratorConfig{
			MaxParallel:      2,
			EnforceExclusive: true,
		},
		Dispatcher: config.DispatcherConfig{PollInterval: 10 * time.Millisecond, GlobalMax: 2},
		ETL:        config.ETLConfig{WorkDir: t.TempDir(), Action: "run_etl"},
	}
}

func TestRunWorkflowLocal(t *testing.T) {
	settings = testSettings(t)
	t.Cleanup(func() { settings = nil })

	wf, err := config.ParseWorkflow([]byte(`
tasks:
  - id: load
    agent: data_analyst
    action: load_filings
    priority: 1
  - id: report
    agent: manager
    action: summarize
    priority: 2
    depends_on: [load]
  - id: orphan
    agent: nobody
    action: summarize
`))
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}

	workflowMode = controlplane.ModeGraph
	t.Cleanup(func() { workflowMode = controlplane.ModeSequential })

	results, err := runWorkflowLocal(wf)
	if err != nil {
		t.Fatalf("runWorkflowLocal: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	if results[0].TaskID != "load" || results[1].TaskID != "report" {
		t.Errorf("order = %s, %s", results[0].TaskID, results[1].TaskID)
	}
	for _, r := range results {
		if !r.Succeeded() {
			t.Errorf("%s failed: %s", r.TaskID, r.Error)
		}
	}
}

func TestRunWorkflowLocalBadConfigDir(t *testing.T) {
	settings = testSettings(t)
	settings.ConfigDir = t.TempDir()
	t.Cleanup(func() { settings = nil })

	wf, err := config.ParseWorkflow([]byte("tasks:\n  - {id: a, agent: manager, action: x}\n"))
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}
	if _, err := runWorkflowLocal(wf); err == nil {
		t.Fatal("expected error for a config dir without agent documents")
	}
}
