package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/cfagents/internal/agents"
	"github.com/fentz26/cfagents/internal/config"
	"github.com/fentz26/cfagents/internal/logging"
	"github.com/fentz26/cfagents/internal/models"
	"github.com/fentz26/cfagents/internal/skills"
)

const testSkills = `
skills:
  fec_code_expert:
    category: fec_expertise
    description: FEC codes
    attachable_to: [data_analyst, backend_specialist]
    skill_level: expert
  partisan_classifier:
    category: partisan_analysis
    description: partisan lean
    attachable_to: [data_analyst, sentiment_analyst]
    skill_level: expert
  ideology_scorer:
    category: partisan_analysis
    description: ideology
    attachable_to: [data_analyst]
    skill_level: advanced
  donor_tier_analyzer:
    category: donor_analysis
    description: donor tiers
    attachable_to: [data_analyst]
    skill_level: advanced
  spike_detector:
    category: temporal_analysis
    description: spikes
    attachable_to: [data_analyst]
    skill_level: intermediate
  open_skill:
    category: general
    description: attachable anywhere
    skill_level: intermediate
`

type fakeAuditor struct {
	mu      sync.Mutex
	entries []models.PDREntry
}

func (f *fakeAuditor) Record(action string, _ any, outcome, taskID, details string) (*models.PDREntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := models.PDREntry{Action: action, Outcome: outcome, TaskID: taskID, Details: details}
	f.entries = append(f.entries, e)
	return &e, nil
}

func (f *fakeAuditor) count(action, outcome string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.Action == action && e.Outcome == outcome {
			n++
		}
	}
	return n
}

type fakeResults struct {
	mu      sync.Mutex
	results []models.TaskResult
}

func (f *fakeResults) RecordResult(res models.TaskResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
	return nil
}

func newTestOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	reg, err := skills.Parse([]byte(testSkills))
	if err != nil {
		t.Fatalf("parse skills: %v", err)
	}
	cat := &config.Catalog{
		Core: []config.AgentSpec{
			{Name: "manager", Config: models.AgentConfig{SkillSlots: 2}},
			{Name: "data_analyst", Config: models.AgentConfig{SkillSlots: 3}},
			{Name: "backend_specialist", Config: models.AgentConfig{SkillSlots: 2}},
		},
		Specialized: []config.AgentSpec{
			{Name: "network_analyst", Config: models.AgentConfig{SkillSlots: 2}},
			{Name: "temporal_analyst", Config: models.AgentConfig{SkillSlots: 2}},
			{Name: "sentiment_analyst", Config: models.AgentConfig{SkillSlots: 2}},
		},
		Skills: reg,
	}
	o, err := New(cat, logging.Discard(), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func TestNew_RejectsDuplicateAgents(t *testing.T) {
	reg, _ := skills.Parse([]byte(testSkills))
	cat := &config.Catalog{
		Core:        []config.AgentSpec{{Name: "manager", Config: models.AgentConfig{SkillSlots: 1}}},
		Specialized: []config.AgentSpec{{Name: "manager", Config: models.AgentConfig{SkillSlots: 1}}},
		Skills:      reg,
	}
	if _, err := New(cat, logging.Discard()); !errors.Is(err, ErrInvalidCatalog) {
		t.Errorf("expected ErrInvalidCatalog, got %v", err)
	}
	if _, err := New(nil, logging.Discard()); !errors.Is(err, ErrInvalidCatalog) {
		t.Errorf("expected ErrInvalidCatalog for nil catalog, got %v", err)
	}
}

func TestAttachSkillToAgent(t *testing.T) {
	audit := &fakeAuditor{}
	o := newTestOrchestrator(t, WithAuditor(audit))

	tests := []struct {
		name    string
		agent   string
		skill   string
		wantErr error
	}{
		{"ok", "data_analyst", "fec_code_expert", nil},
		{"unknown agent", "pollster", "fec_code_expert", ErrAgentNotFound},
		{"unknown skill", "data_analyst", "crystal_ball", ErrSkillNotFound},
		{"not attachable", "manager", "fec_code_expert", ErrNotAttachable},
		{"unrestricted skill", "manager", "open_skill", nil},
		{"duplicate", "data_analyst", "fec_code_expert", agents.ErrAlreadyAttached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.AttachSkillToAgent(tt.agent, tt.skill)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := audit.count("skill.attach", "success"); got != 2 {
		t.Errorf("successful attach records = %d, want 2", got)
	}
	if got := audit.count("skill.attach", "rejected"); got != 4 {
		t.Errorf("rejected attach records = %d, want 4", got)
	}
}

func TestAttachSkillToAgent_SlotLimit(t *testing.T) {
	o := newTestOrchestrator(t)

	for _, s := range []string{"fec_code_expert", "partisan_classifier", "donor_tier_analyzer"} {
		if err := o.AttachSkillToAgent("data_analyst", s); err != nil {
			t.Fatalf("attach %s: %v", s, err)
		}
	}
	err := o.AttachSkillToAgent("data_analyst", "spike_detector")
	if !errors.Is(err, agents.ErrSlotLimit) {
		t.Fatalf("expected ErrSlotLimit, got %v", err)
	}
	got, _ := o.AgentSkills("data_analyst")
	if len(got) != 3 || got[0] != "fec_code_expert" || got[2] != "donor_tier_analyzer" {
		t.Errorf("skills after failed attach = %v", got)
	}
}

func TestAttachSkillToAgent_ExclusiveCategories(t *testing.T) {
	t.Run("enforced", func(t *testing.T) {
		o := newTestOrchestrator(t)
		if err := o.AttachSkillToAgent("data_analyst", "partisan_classifier"); err != nil {
			t.Fatalf("first partisan skill: %v", err)
		}
		err := o.AttachSkillToAgent("data_analyst", "ideology_scorer")
		if !errors.Is(err, ErrExclusiveConflict) || !errors.Is(err, skills.ErrExclusiveConflict) {
			t.Errorf("expected exclusive conflict, got %v", err)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		o := newTestOrchestrator(t, WithConfig(Config{MaxParallel: 2, EnforceExclusive: false}))
		_ = o.AttachSkillToAgent("data_analyst", "partisan_classifier")
		if err := o.AttachSkillToAgent("data_analyst", "ideology_scorer"); err != nil {
			t.Errorf("attach should pass without enforcement: %v", err)
		}
	})
}

func TestDetachAndReset(t *testing.T) {
	o := newTestOrchestrator(t)
	_ = o.AttachSkillToAgent("data_analyst", "fec_code_expert")

	if err := o.DetachSkillFromAgent("data_analyst", "fec_code_expert"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if err := o.DetachSkillFromAgent("data_analyst", "fec_code_expert"); err != nil {
		t.Errorf("detaching an absent skill should succeed: %v", err)
	}
	if err := o.DetachSkillFromAgent("nobody", "x"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
	if _, err := o.AgentSkills("nobody"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
	if err := o.ResetAgent("data_analyst"); err != nil {
		t.Errorf("reset: %v", err)
	}
}

func TestExecuteWorkflow_EndToEnd(t *testing.T) {
	results := &fakeResults{}
	o := newTestOrchestrator(t, WithResultRecorder(results))
	_ = o.AttachSkillToAgent("data_analyst", "fec_code_expert")

	t1 := models.NewTask("t1", "data_analyst", "classify_committees", nil)
	t1.Priority = 1
	t2 := models.NewTask("t2", "data_analyst", "classify_partisan", nil, "t1")
	t2.Priority = 2

	got := o.ExecuteWorkflow(context.Background(), []*models.AgentTask{t1, t2})
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	for i, id := range []string{"t1", "t2"} {
		if got[i].TaskID != id || !got[i].Succeeded() {
			t.Errorf("result %d = %+v", i, got[i])
		}
	}
	if got[0].Output != "Task classify_committees completed" {
		t.Errorf("output = %q", got[0].Output)
	}
	if done := o.CompletedTasks(); len(done) != 2 || done[0] != "t1" || done[1] != "t2" {
		t.Errorf("completed = %v", done)
	}
	if o.AgentStatus()["data_analyst"] != models.AgentStatusCompleted {
		t.Errorf("data_analyst status = %s", o.AgentStatus()["data_analyst"])
	}
	if len(results.results) != 2 {
		t.Errorf("recorded %d results, want 2", len(results.results))
	}
}

func TestExecuteWorkflow_SinglePassSkipsLateDependency(t *testing.T) {
	o := newTestOrchestrator(t)

	a := models.NewTask("A", "data_analyst", "download", nil)
	a.Priority = 5
	b := models.NewTask("B", "network_analyst", "build_network", nil, "A")
	b.Priority = 1

	got := o.ExecuteWorkflow(context.Background(), []*models.AgentTask{a, b})
	if len(got) != 1 || got[0].TaskID != "A" {
		t.Fatalf("results = %+v, want only A", got)
	}
	if b.Status != models.TaskStatusWaiting {
		t.Errorf("B status = %s, want waiting", b.Status)
	}
	if o.IsCompleted("B") {
		t.Error("B must not be completed")
	}
}

func TestExecuteWorkflow_SkipsUnknownAndFailedAgents(t *testing.T) {
	actions := agents.NewActionRegistry()
	actions.Register("explode", func(context.Context, agents.ActionRequest) (agents.ActionOutput, error) {
		return agents.ActionOutput{}, errors.New("bad input file")
	})
	audit := &fakeAuditor{}
	o := newTestOrchestrator(t, WithActions(actions), WithAuditor(audit))

	tasks := []*models.AgentTask{
		models.NewTask("ghost", "pollster", "x", nil),
		models.NewTask("fail", "data_analyst", "explode", nil),
		models.NewTask("after", "data_analyst", "x", nil),
		models.NewTask("other", "manager", "x", nil),
	}
	got := o.ExecuteWorkflow(context.Background(), tasks)

	if len(got) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(got), got)
	}
	if got[0].TaskID != "fail" || got[0].Succeeded() || got[0].Error != "bad input file" {
		t.Errorf("failure result = %+v", got[0])
	}
	if got[1].TaskID != "other" || !got[1].Succeeded() {
		t.Errorf("other result = %+v", got[1])
	}
	if n := audit.count("task.skip", "skipped"); n != 2 {
		t.Errorf("skip records = %d, want 2", n)
	}
}

func TestExecuteParallel_IndexAligned(t *testing.T) {
	actions := agents.NewActionRegistry()
	actions.Register("slow", func(ctx context.Context, req agents.ActionRequest) (agents.ActionOutput, error) {
		// Earlier tasks finish later so completion order differs from input order.
		d, _ := req.Parameters["delay"].(time.Duration)
		time.Sleep(d)
		return agents.ActionOutput{Output: req.TaskID}, nil
	})
	o := newTestOrchestrator(t, WithActions(actions))

	tasks := []*models.AgentTask{
		models.NewTask("net", "network_analyst", "slow", map[string]any{"delay": 30 * time.Millisecond}),
		models.NewTask("temp", "temporal_analyst", "slow", map[string]any{"delay": 15 * time.Millisecond}),
		models.NewTask("sent", "sentiment_analyst", "slow", map[string]any{"delay": time.Duration(0)}),
	}
	got := o.ExecuteParallel(context.Background(), tasks)

	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	for i, task := range tasks {
		if got[i].TaskID != task.ID || got[i].Output != task.ID || !got[i].Succeeded() {
			t.Errorf("result %d = %+v, want %s", i, got[i], task.ID)
		}
	}
	if len(o.CompletedTasks()) != 3 {
		t.Errorf("completed = %v", o.CompletedTasks())
	}
}

func TestExecuteParallel_SameAgentRunsInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	actions := agents.NewActionRegistry()
	actions.Register("step", func(_ context.Context, req agents.ActionRequest) (agents.ActionOutput, error) {
		// Later tasks are quicker so a race would reorder them.
		d, _ := req.Parameters["delay"].(time.Duration)
		time.Sleep(d)
		mu.Lock()
		order = append(order, req.TaskID)
		mu.Unlock()
		return agents.ActionOutput{Output: req.TaskID}, nil
	})
	o := newTestOrchestrator(t, WithActions(actions))

	tasks := []*models.AgentTask{
		models.NewTask("p1", "data_analyst", "step", map[string]any{"delay": 20 * time.Millisecond}),
		models.NewTask("p2", "data_analyst", "step", map[string]any{"delay": 10 * time.Millisecond}),
		models.NewTask("p3", "data_analyst", "step", map[string]any{"delay": time.Duration(0)}),
	}
	got := o.ExecuteParallel(context.Background(), tasks)

	for i, task := range tasks {
		if got[i].TaskID != task.ID || !got[i].Succeeded() {
			t.Errorf("result %d = %+v, want success for %s", i, got[i], task.ID)
		}
	}
	if len(order) != 3 || order[0] != "p1" || order[1] != "p2" || order[2] != "p3" {
		t.Errorf("run order = %v, want [p1 p2 p3]", order)
	}
}

func TestExecuteParallel_FailedRecords(t *testing.T) {
	actions := agents.NewActionRegistry()
	actions.Register("explode", func(context.Context, agents.ActionRequest) (agents.ActionOutput, error) {
		return agents.ActionOutput{}, errors.New("boom")
	})
	audit := &fakeAuditor{}
	o := newTestOrchestrator(t, WithActions(actions), WithAuditor(audit))

	tasks := []*models.AgentTask{
		models.NewTask("bad", "data_analyst", "explode", nil),
		models.NewTask("after", "data_analyst", "x", nil),
		models.NewTask("ghost", "pollster", "x", nil),
		nil,
		models.NewTask("fine", "manager", "x", nil),
	}
	got := o.ExecuteParallel(context.Background(), tasks)

	if len(got) != 5 {
		t.Fatalf("got %d results, want 5", len(got))
	}
	if got[0].TaskID != "bad" || got[0].Succeeded() || got[0].Error == "" {
		t.Errorf("failing action result = %+v", got[0])
	}
	// The agent is FAILED once "bad" returns, so the queued task is refused.
	if got[1].TaskID != "after" || got[1].Succeeded() || got[1].Error == "" {
		t.Errorf("task for failed agent = %+v, want failed record", got[1])
	}
	if got[2].TaskID != "ghost" || got[2].Succeeded() || got[2].Error == "" {
		t.Errorf("unknown agent should produce a failed record: %+v", got[2])
	}
	if got[3].Succeeded() || got[3].Error != "nil task" {
		t.Errorf("nil entry = %+v, want failed record", got[3])
	}
	if got[4].TaskID != "fine" || !got[4].Succeeded() {
		t.Errorf("independent task = %+v, want success", got[4])
	}
	if n := audit.count("task.skip", "skipped"); n != 2 {
		t.Errorf("skip records = %d, want 2", n)
	}
}

func TestExecuteWorkflow_IgnoresNilTasks(t *testing.T) {
	o := newTestOrchestrator(t)

	tasks := []*models.AgentTask{nil, models.NewTask("only", "manager", "x", nil), nil}
	got := o.ExecuteWorkflow(context.Background(), tasks)
	if len(got) != 1 || got[0].TaskID != "only" || !got[0].Succeeded() {
		t.Errorf("workflow results = %+v", got)
	}

	graph, err := o.ExecuteGraph(context.Background(), []*models.AgentTask{
		nil, models.NewTask("next", "data_analyst", "x", nil, "only"),
	})
	if err != nil {
		t.Fatalf("ExecuteGraph failed: %v", err)
	}
	if len(graph) != 1 || graph[0].TaskID != "next" || !graph[0].Succeeded() {
		t.Errorf("graph results = %+v", graph)
	}
}

func TestExecuteParallel_Bounded(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	actions := agents.NewActionRegistry()
	actions.Register("count", func(context.Context, agents.ActionRequest) (agents.ActionOutput, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return agents.ActionOutput{}, nil
	})
	o := newTestOrchestrator(t, WithActions(actions), WithConfig(Config{MaxParallel: 2, EnforceExclusive: true}))

	var tasks []*models.AgentTask
	for _, name := range []string{"manager", "data_analyst", "backend_specialist", "network_analyst", "temporal_analyst", "sentiment_analyst"} {
		tasks = append(tasks, models.NewTask("t-"+name, name, "count", nil))
	}
	got := o.ExecuteParallel(context.Background(), tasks)

	for i, res := range got {
		if !res.Succeeded() {
			t.Errorf("task %d failed: %+v", i, res)
		}
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestExecuteGraph_DependencyOrder(t *testing.T) {
	o := newTestOrchestrator(t)

	a := models.NewTask("A", "data_analyst", "download", nil)
	a.Priority = 5
	b := models.NewTask("B", "network_analyst", "build_network", nil, "A")
	b.Priority = 1
	c := models.NewTask("C", "temporal_analyst", "spikes", nil)
	c.Priority = 3

	got, err := o.ExecuteGraph(context.Background(), []*models.AgentTask{a, b, c})
	if err != nil {
		t.Fatalf("ExecuteGraph failed: %v", err)
	}
	var order []string
	for _, r := range got {
		order = append(order, r.TaskID)
	}
	// C and A are ready first, C has the lower priority number; B follows A.
	want := []string{"C", "A", "B"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("dispatch order = %v, want %v", order, want)
	}
}

func TestExecuteGraph_SkipsDependentsOfFailures(t *testing.T) {
	actions := agents.NewActionRegistry()
	actions.Register("explode", func(context.Context, agents.ActionRequest) (agents.ActionOutput, error) {
		return agents.ActionOutput{}, errors.New("boom")
	})
	o := newTestOrchestrator(t, WithActions(actions))

	tasks := []*models.AgentTask{
		models.NewTask("A", "data_analyst", "explode", nil),
		models.NewTask("B", "network_analyst", "x", nil, "A"),
		models.NewTask("C", "manager", "x", nil, "B"),
		models.NewTask("D", "temporal_analyst", "x", nil, "not-in-batch"),
	}
	got, err := o.ExecuteGraph(context.Background(), tasks)
	if err != nil {
		t.Fatalf("ExecuteGraph failed: %v", err)
	}
	if len(got) != 1 || got[0].TaskID != "A" || got[0].Succeeded() {
		t.Errorf("results = %+v, want only the failed A", got)
	}
	for _, task := range tasks[1:] {
		if task.Status != models.TaskStatusWaiting {
			t.Errorf("%s status = %s, want waiting", task.ID, task.Status)
		}
	}
}

func TestExecuteGraph_ExternalDependencyCompleted(t *testing.T) {
	o := newTestOrchestrator(t)
	o.ExecuteWorkflow(context.Background(), []*models.AgentTask{models.NewTask("prior", "manager", "x", nil)})

	got, err := o.ExecuteGraph(context.Background(), []*models.AgentTask{
		models.NewTask("next", "data_analyst", "x", nil, "prior"),
	})
	if err != nil {
		t.Fatalf("ExecuteGraph failed: %v", err)
	}
	if len(got) != 1 || !got[0].Succeeded() {
		t.Errorf("results = %+v", got)
	}
}

func TestExecuteGraph_Rejects(t *testing.T) {
	o := newTestOrchestrator(t)

	cycle := []*models.AgentTask{
		models.NewTask("A", "data_analyst", "x", nil, "C"),
		models.NewTask("B", "manager", "x", nil, "A"),
		models.NewTask("C", "network_analyst", "x", nil, "B"),
		models.NewTask("D", "temporal_analyst", "x", nil),
	}
	if _, err := o.ExecuteGraph(context.Background(), cycle); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
	if cycle[3].Status != models.TaskStatusWaiting {
		t.Error("nothing may run when the batch has a cycle")
	}

	dup := []*models.AgentTask{
		models.NewTask("A", "data_analyst", "x", nil),
		models.NewTask("A", "manager", "x", nil),
	}
	if _, err := o.ExecuteGraph(context.Background(), dup); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestSubmitAndRunQueued(t *testing.T) {
	o := newTestOrchestrator(t)

	b := models.NewTask("B", "network_analyst", "x", nil, "A")
	b.Priority = 1
	a := models.NewTask("A", "data_analyst", "x", nil)
	a.Priority = 2
	o.SubmitTask(b)
	o.SubmitTask(a)
	o.SubmitTask(nil)

	if o.QueueSize() != 2 {
		t.Fatalf("queue size = %d, want 2", o.QueueSize())
	}
	if snap := o.Snapshot(); snap.QueueSize != 2 || len(snap.Core) != 3 || len(snap.Specialized) != 3 {
		t.Errorf("snapshot = %+v", snap)
	}

	first := o.RunQueued(context.Background())
	if len(first) != 1 || first[0].TaskID != "A" {
		t.Fatalf("first run = %+v, want only A", first)
	}
	if o.QueueSize() != 1 {
		t.Fatalf("B should be requeued, queue size = %d", o.QueueSize())
	}

	second := o.RunQueued(context.Background())
	if len(second) != 1 || second[0].TaskID != "B" {
		t.Fatalf("second run = %+v, want B", second)
	}
	if o.QueueSize() != 0 || o.Snapshot().CompletedTasks != 2 {
		t.Errorf("snapshot after drain = %+v", o.Snapshot())
	}
}

func TestAgents_ConfigOrder(t *testing.T) {
	o := newTestOrchestrator(t)
	infos := o.Agents()

	want := []string{"manager", "data_analyst", "backend_specialist", "network_analyst", "temporal_analyst", "sentiment_analyst"}
	if len(infos) != len(want) {
		t.Fatalf("got %d agents", len(infos))
	}
	for i, info := range infos {
		if info.Name != want[i] {
			t.Errorf("position %d = %s, want %s", i, info.Name, want[i])
		}
	}
}
