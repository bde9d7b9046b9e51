// Package tools holds the registry and built-in tools the model can call.
// Every invocation carries its own context (conversation, channel, profile)
// so tools never reach for process-wide state.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"amightyclaw/internal/llm"
)

var ErrDuplicate = errors.New("tool name already registered")

// Invocation identifies one tool call and where it came from.
type Invocation struct {
	ID             string
	ConversationID string
	Channel        string
	Profile        string
	Args           json.RawMessage
}

type Tool interface {
	Definition() llm.ToolDefinition
	Call(ctx context.Context, inv Invocation) (string, error)
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register rejects duplicate names rather than silently replacing: a name
// collision between built-ins is a wiring bug worth surfacing at startup.
func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	if name == "" {
		return errors.New("tool has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) MustRegister(ts ...Tool) {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Unregister(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

// Definitions lists tool definitions in stable name order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	r.mu.RUnlock()
	return defs
}

func (r *Registry) Dispatch(ctx context.Context, name string, inv Invocation) (string, error) {
	if r == nil {
		return "", errors.New("tool registry is nil")
	}
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.Call(ctx, inv)
}
