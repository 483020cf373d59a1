package agents

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/fentz26/cfagents/internal/models"
)

// ActionRequest is what an action callback receives.
type ActionRequest struct {
	Agent      string
	TaskID     string
	Action     string
	Parameters map[string]any
	// Skills are the agent's attached skills at dispatch time.
	Skills []models.AttachedSkill
}

// HasSkill reports whether the named skill was attached at dispatch time.
func (r ActionRequest) HasSkill(name string) bool {
	return slices.ContainsFunc(r.Skills, func(s models.AttachedSkill) bool { return s.Name == name })
}

// ActionOutput is a successful action's product.
type ActionOutput struct {
	Output string
	Data   map[string]any
}

// ActionFunc performs the analytical work behind an action name.
type ActionFunc func(ctx context.Context, req ActionRequest) (ActionOutput, error)

// PlaceholderAction succeeds without doing any work.
func PlaceholderAction(_ context.Context, req ActionRequest) (ActionOutput, error) {
	return ActionOutput{Output: fmt.Sprintf("Task %s completed", req.Action)}, nil
}

// RegistryOption configures an ActionRegistry.
type RegistryOption func(*ActionRegistry)

// WithStrictActions makes unregistered actions fail with ErrUnknownAction.
func WithStrictActions() RegistryOption {
	return func(r *ActionRegistry) { r.fallback = nil }
}

// WithFallback sets the callback used for unregistered actions.
func WithFallback(fn ActionFunc) RegistryOption {
	return func(r *ActionRegistry) { r.fallback = fn }
}

// ActionRegistry maps action names to callbacks. It is safe for concurrent use.
type ActionRegistry struct {
	mu       sync.RWMutex
	actions  map[string]ActionFunc
	fallback ActionFunc
}

// NewActionRegistry creates a registry whose fallback is PlaceholderAction.
func NewActionRegistry(opts ...RegistryOption) *ActionRegistry {
	r := &ActionRegistry{
		actions:  make(map[string]ActionFunc),
		fallback: PlaceholderAction,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds an action name to a callback, replacing any previous one.
func (r *ActionRegistry) Register(action string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action] = fn
}

// Resolve returns the callback for an action, falling back when configured.
func (r *ActionRegistry) Resolve(action string) (ActionFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.actions[action]; ok {
		return fn, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
}

// Actions returns the registered action names, sorted.
func (r *ActionRegistry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
