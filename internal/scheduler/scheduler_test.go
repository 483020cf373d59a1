package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fentz26/cfagents/internal/agents"
	"github.com/fentz26/cfagents/internal/bus"
	"github.com/fentz26/cfagents/internal/config"
	"github.com/fentz26/cfagents/internal/logging"
	"github.com/fentz26/cfagents/internal/models"
	"github.com/fentz26/cfagents/internal/orchestrator"
	"github.com/fentz26/cfagents/internal/skills"
)

func TestDispatcherAnswersDelegatedTask(t *testing.T) {
	actions := agents.NewActionRegistry()
	actions.Register("classify", func(_ context.Context, req agents.ActionRequest) (agents.ActionOutput, error) {
		return agents.ActionOutput{
			Output: fmt.Sprintf("classified cycle %v", req.Parameters["cycle"]),
			Data:   map[string]any{"rows": 12},
		}, nil
	})
	b, d := newTestDispatcher(t, actions, nil, "manager", "data_analyst")
	proto := bus.NewProtocol(b, logging.Discard())

	id := proto.DelegateTask("manager", "data_analyst", map[string]any{
		"action":     "classify",
		"parameters": map[string]any{"cycle": 2024},
	})
	if !b.IsPending(id) {
		t.Fatal("delegation should be pending before dispatch")
	}

	d.pollAndDispatch()
	d.wg.Wait()

	if b.IsPending(id) {
		t.Error("delegation still pending after the dispatcher answered")
	}

	results := b.History(bus.HistoryFilter{Type: models.MessageTaskResult})
	if len(results) != 1 {
		t.Fatalf("expected 1 task_result, got %d", len(results))
	}
	resp := results[0]
	if resp.Sender != "data_analyst" || resp.Recipient != "manager" {
		t.Errorf("response route = %s -> %s", resp.Sender, resp.Recipient)
	}
	if resp.Metadata[models.MetaOriginalMessageID] != id {
		t.Errorf("response metadata = %v", resp.Metadata)
	}
	if resp.Payload["status"] != string(models.ResultSuccess) {
		t.Errorf("status = %v", resp.Payload["status"])
	}
	if resp.Payload["output"] != "classified cycle 2024" {
		t.Errorf("output = %v", resp.Payload["output"])
	}
	if resp.Payload["task_id"] != id {
		t.Errorf("task_id = %v, want message id %s", resp.Payload["task_id"], id)
	}

	// The answer itself is routed to the delegator's inbox on the next poll.
	d.pollAndDispatch()
	inbox := d.Inbox("manager")
	if len(inbox) != 1 || inbox[0].ID != resp.ID {
		t.Fatalf("manager inbox = %+v", inbox)
	}

	stats := d.GetStats()
	if stats["dispatched"].(int) != 1 || stats["answered"].(int) != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestDispatcherRefusalAnswersFailed(t *testing.T) {
	actions := agents.NewActionRegistry()
	actions.Register("explode", func(context.Context, agents.ActionRequest) (agents.ActionOutput, error) {
		return agents.ActionOutput{}, errors.New("bad input file")
	})
	b, d := newTestDispatcher(t, actions, nil, "manager", "data_analyst")
	proto := bus.NewProtocol(b, logging.Discard())

	// First run fails and leaves the agent failed.
	proto.DelegateTask("manager", "data_analyst", map[string]any{"action": "explode"})
	d.pollAndDispatch()
	d.wg.Wait()

	// Second delegation is refused outright.
	second := proto.DelegateTask("manager", "data_analyst", map[string]any{"action": "explode"})
	d.pollAndDispatch()
	d.wg.Wait()

	results := b.History(bus.HistoryFilter{Type: models.MessageTaskResult})
	if len(results) != 2 {
		t.Fatalf("expected 2 task_results, got %d", len(results))
	}
	if results[0].Payload["status"] != string(models.ResultFailed) || results[0].Payload["error"] != "bad input file" {
		t.Errorf("first answer = %v", results[0].Payload)
	}
	refusal := results[1]
	if refusal.Metadata[models.MetaOriginalMessageID] != second {
		t.Errorf("refusal answers %v, want %s", refusal.Metadata[models.MetaOriginalMessageID], second)
	}
	if refusal.Payload["status"] != string(models.ResultFailed) {
		t.Errorf("refusal status = %v", refusal.Payload["status"])
	}
	if msg, _ := refusal.Payload["error"].(string); msg == "" {
		t.Error("refusal should carry the reason")
	}
	if b.IsPending(second) {
		t.Error("refused delegation should not stay pending")
	}
}

func TestDispatcherInbox(t *testing.T) {
	b, d := newTestDispatcher(t, agents.NewActionRegistry(), nil, "manager", "data_analyst")
	proto := bus.NewProtocol(b, logging.Discard())

	proto.ShareData("manager", "data_analyst", map[string]any{"file": "indiv24.csv"})
	unknown := proto.DelegateTask("manager", "ghost", map[string]any{"action": "noop"})
	b.SendDirect("manager", "data_analyst", models.MessageStatusUpdate, nil, models.PriorityLow, false)

	d.pollAndDispatch()
	d.wg.Wait()

	if got := d.Inbox("ghost"); len(got) != 1 || got[0].ID != unknown {
		t.Errorf("task request for unknown agent should be delivered, got %+v", got)
	}
	if !b.IsPending(unknown) {
		t.Error("undispatched request should stay pending")
	}

	inbox := d.Inbox("data_analyst")
	if len(inbox) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(inbox))
	}
	if inbox[0].Type != models.MessageDataShare || inbox[1].Type != models.MessageStatusUpdate {
		t.Errorf("inbox order = %s, %s", inbox[0].Type, inbox[1].Type)
	}

	taken := d.TakeInbox("data_analyst")
	if len(taken) != 2 {
		t.Errorf("TakeInbox returned %d messages", len(taken))
	}
	if len(d.Inbox("data_analyst")) != 0 {
		t.Error("inbox should be empty after TakeInbox")
	}
	if d.GetStats()["dispatched"].(int) != 0 {
		t.Error("nothing should have been dispatched")
	}
}

func TestDispatcherNoAnswerWhenNotRequested(t *testing.T) {
	ran := make(chan string, 1)
	actions := agents.NewActionRegistry()
	actions.Register("refresh", func(_ context.Context, req agents.ActionRequest) (agents.ActionOutput, error) {
		ran <- req.TaskID
		return agents.ActionOutput{Output: "ok"}, nil
	})
	b, d := newTestDispatcher(t, actions, nil, "manager", "data_analyst")

	id := b.SendDirect("manager", "data_analyst", models.MessageTaskRequest, map[string]any{"action": "refresh"}, models.PriorityNormal, false)
	d.pollAndDispatch()
	d.wg.Wait()

	select {
	case got := <-ran:
		if got != id {
			t.Errorf("task id = %s, want %s", got, id)
		}
	default:
		t.Fatal("task did not run")
	}
	if n := len(b.History(bus.HistoryFilter{Type: models.MessageTaskResult})); n != 0 {
		t.Errorf("expected no task_result, got %d", n)
	}
}

func TestTaskFromMessage(t *testing.T) {
	tests := []struct {
		name       string
		payload    map[string]any
		wantAction string
		wantParams int
	}{
		{"action and parameters", map[string]any{"action": "run_etl", "parameters": map[string]any{"script": "etl/refresh.py"}}, "run_etl", 1},
		{"missing action", map[string]any{}, "delegated_task", 0},
		{"wrong parameter type", map[string]any{"action": "x", "parameters": "nope"}, "x", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := models.Message{ID: "m1", Recipient: "data_analyst", Payload: tt.payload}
			task := TaskFromMessage(msg)
			if task.ID != "m1" || task.AgentName != "data_analyst" {
				t.Errorf("task = %+v", task)
			}
			if task.Action != tt.wantAction {
				t.Errorf("action = %s, want %s", task.Action, tt.wantAction)
			}
			if len(task.Parameters) != tt.wantParams {
				t.Errorf("parameters = %v", task.Parameters)
			}
			if task.Status != models.TaskStatusWaiting {
				t.Errorf("status = %s", task.Status)
			}
		})
	}
}

func TestStopIsGraceful(t *testing.T) {
	_, d := newTestDispatcher(t, agents.NewActionRegistry(), &Config{GlobalMax: 1, PollInterval: 5 * time.Millisecond}, "manager")
	d.Start()
	d.Start()

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStopLetsRunningTaskFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	actions := agents.NewActionRegistry()
	actions.Register("load_filings", func(ctx context.Context, _ agents.ActionRequest) (agents.ActionOutput, error) {
		close(started)
		select {
		case <-ctx.Done():
			return agents.ActionOutput{}, ctx.Err()
		case <-release:
			return agents.ActionOutput{Output: "loaded"}, nil
		}
	})
	b, d := newTestDispatcher(t, actions, &Config{GlobalMax: 1, PollInterval: 5 * time.Millisecond}, "manager", "data_analyst")
	proto := bus.NewProtocol(b, logging.Discard())

	id := proto.DelegateTask("manager", "data_analyst", map[string]any{"action": "load_filings"})
	d.Start()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	results := b.History(bus.HistoryFilter{Type: models.MessageTaskResult})
	if len(results) != 1 {
		t.Fatalf("expected 1 task_result, got %d", len(results))
	}
	if results[0].Metadata[models.MetaOriginalMessageID] != id {
		t.Errorf("answer metadata = %v", results[0].Metadata)
	}
	if results[0].Payload["status"] != string(models.ResultSuccess) || results[0].Payload["output"] != "loaded" {
		t.Errorf("answer payload = %v, want success", results[0].Payload)
	}
}

func newTestDispatcher(t *testing.T, actions *agents.ActionRegistry, cfg *Config, names ...string) (*bus.MessageBus, *Dispatcher) {
	t.Helper()

	registry, err := skills.New(nil)
	if err != nil {
		t.Fatalf("skills.New: %v", err)
	}
	cat := &config.Catalog{Skills: registry}
	for _, name := range names {
		cat.Core = append(cat.Core, config.AgentSpec{Name: name, Config: models.AgentConfig{SkillSlots: 3}})
	}

	orch, err := orchestrator.New(cat, logging.Discard(), orchestrator.WithActions(actions))
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}

	b := bus.New(logging.Discard())
	return b, New(b, orch, cfg, logging.Discard())
}
