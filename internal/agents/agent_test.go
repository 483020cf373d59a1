package agents

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fentz26/cfagents/internal/logging"
	"github.com/fentz26/cfagents/internal/models"
)

func newTestAgent(t *testing.T, slots int, actions *ActionRegistry) *Agent {
	t.Helper()
	return New("data_analyst", models.AgentConfig{SkillSlots: slots, Role: "analyst"}, actions, logging.Discard())
}

func skill(name, category string) models.Skill {
	return models.Skill{Name: name, Category: category, SkillLevel: models.SkillLevelExpert}
}

func TestAttachSkill_SlotLimit(t *testing.T) {
	a := newTestAgent(t, 2, nil)

	if err := a.AttachSkill(skill("fec_code_expert", "fec_expertise")); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := a.AttachSkill(skill("partisan_classifier", "partisan_analysis")); err != nil {
		t.Fatalf("second attach: %v", err)
	}

	err := a.AttachSkill(skill("donor_tier_analyzer", "donor_analysis"))
	if !errors.Is(err, ErrSlotLimit) {
		t.Fatalf("expected ErrSlotLimit, got %v", err)
	}
	got := a.SkillNames()
	if len(got) != 2 || got[0] != "fec_code_expert" || got[1] != "partisan_classifier" {
		t.Errorf("skills changed after failed attach: %v", got)
	}
}

func TestAttachSkill_Duplicate(t *testing.T) {
	a := newTestAgent(t, 5, nil)
	s := skill("fec_code_expert", "fec_expertise")

	if err := a.AttachSkill(s); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := a.AttachSkill(s); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("expected ErrAlreadyAttached, got %v", err)
	}
	if len(a.Skills()) != 1 {
		t.Errorf("expected one attached skill, got %d", len(a.Skills()))
	}
}

func TestDetachSkill(t *testing.T) {
	a := newTestAgent(t, 5, nil)
	_ = a.AttachSkill(skill("fec_code_expert", "fec_expertise"))
	_ = a.AttachSkill(skill("partisan_classifier", "partisan_analysis"))

	if !a.DetachSkill("fec_code_expert") {
		t.Error("expected detach to report removal")
	}
	if a.DetachSkill("fec_code_expert") {
		t.Error("detaching an absent skill should report false")
	}
	if a.HasSkill("fec_code_expert") || !a.HasSkill("partisan_classifier") {
		t.Errorf("unexpected skills after detach: %v", a.SkillNames())
	}
}

func TestExecute_Success(t *testing.T) {
	actions := NewActionRegistry()
	actions.Register("classify_committees", func(ctx context.Context, req ActionRequest) (ActionOutput, error) {
		if !req.HasSkill("fec_code_expert") {
			t.Errorf("request should carry attached skills: %+v", req.Skills)
		}
		return ActionOutput{Output: "classified", Data: map[string]any{"committees": 42}}, nil
	})
	a := newTestAgent(t, 5, actions)
	_ = a.AttachSkill(skill("fec_code_expert", "fec_expertise"))

	task := models.NewTask("t1", "data_analyst", "classify_committees", nil)
	res, err := a.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.Succeeded() || res.Output != "classified" || res.Data["committees"] != 42 {
		t.Errorf("unexpected result %+v", res)
	}
	if a.Status() != models.AgentStatusCompleted || task.Status != models.TaskStatusCompleted {
		t.Errorf("status = %s / %s, want completed", a.Status(), task.Status)
	}
	if h := a.TaskHistory(); len(h) != 1 || h[0] != "t1" {
		t.Errorf("history = %v", h)
	}
	if !a.CanExecute() {
		t.Error("completed agent should accept more work")
	}
}

func TestExecute_PlaceholderFallback(t *testing.T) {
	a := newTestAgent(t, 5, nil)

	res, err := a.Execute(context.Background(), models.NewTask("t1", "data_analyst", "build_donor_network", nil))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Output != "Task build_donor_network completed" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestExecute_FailureBlocksUntilReset(t *testing.T) {
	actions := NewActionRegistry()
	actions.Register("boom", func(context.Context, ActionRequest) (ActionOutput, error) {
		return ActionOutput{}, errors.New("source file missing")
	})
	a := newTestAgent(t, 5, actions)

	task := models.NewTask("t1", "data_analyst", "boom", nil)
	res, err := a.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("callback failures are results, not errors: %v", err)
	}
	if res.Succeeded() || res.Error != "source file missing" {
		t.Errorf("unexpected result %+v", res)
	}
	if a.Status() != models.AgentStatusFailed || task.Status != models.TaskStatusFailed {
		t.Errorf("status = %s / %s, want failed", a.Status(), task.Status)
	}
	if len(a.TaskHistory()) != 0 {
		t.Error("failed task must not enter history")
	}

	if _, err := a.Execute(context.Background(), models.NewTask("t2", "data_analyst", "x", nil)); !errors.Is(err, ErrNotExecutable) {
		t.Errorf("expected ErrNotExecutable, got %v", err)
	}
	if !a.Reset() || !a.CanExecute() {
		t.Error("reset agent should accept work")
	}
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	actions := NewActionRegistry()
	actions.Register("panic", func(context.Context, ActionRequest) (ActionOutput, error) {
		panic("nil map")
	})
	a := newTestAgent(t, 5, actions)

	res, err := a.Execute(context.Background(), models.NewTask("t1", "data_analyst", "panic", nil))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Succeeded() || a.Status() != models.AgentStatusFailed {
		t.Errorf("panic should fail the task: %+v", res)
	}
}

func TestExecute_StrictActions(t *testing.T) {
	a := newTestAgent(t, 5, NewActionRegistry(WithStrictActions()))

	res, err := a.Execute(context.Background(), models.NewTask("t1", "data_analyst", "unknown", nil))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Succeeded() {
		t.Error("unknown action should fail under strict actions")
	}
}

func TestExecute_OnlyOneConcurrentStart(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32

	actions := NewActionRegistry()
	actions.Register("slow", func(context.Context, ActionRequest) (ActionOutput, error) {
		started.Add(1)
		<-release
		return ActionOutput{}, nil
	})
	a := newTestAgent(t, 5, actions)

	const callers = 10
	var wg sync.WaitGroup
	var refused atomic.Int32
	ready := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-ready
			_, err := a.Execute(context.Background(), models.NewTask("t", "data_analyst", "slow", nil))
			if errors.Is(err, ErrNotExecutable) {
				refused.Add(1)
			}
		}(i)
	}
	close(ready)

	// Wait until either the winner is running or everyone else has given up.
	for refused.Load() < callers-1 {
		if started.Load() > 1 {
			break
		}
	}
	close(release)
	wg.Wait()

	if started.Load() != 1 {
		t.Errorf("%d callers started; only one may run at a time", started.Load())
	}
}

func TestInfo(t *testing.T) {
	a := newTestAgent(t, 3, nil)
	_ = a.AttachSkill(skill("fec_code_expert", "fec_expertise"))
	_, _ = a.Execute(context.Background(), models.NewTask("t1", "data_analyst", "x", nil))

	info := a.Info()
	if info.Name != "data_analyst" || info.SkillSlots != 3 || info.Completed != 1 || len(info.Skills) != 1 {
		t.Errorf("unexpected info %+v", info)
	}
}
