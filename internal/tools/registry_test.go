package tools

import (
	"context"
	"errors"
	"testing"

	"amightyclaw/internal/llm"
)

type fakeTool struct {
	name   string
	result string
}

func (f *fakeTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: f.name, Parameters: map[string]any{"type": "object"}}
}

func (f *fakeTool) Call(ctx context.Context, inv Invocation) (string, error) {
	return f.result, nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "alpha"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(&fakeTool{name: "alpha"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestDefinitionsSortedByName(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&fakeTool{name: "zeta"}, &fakeTool{name: "alpha"}, &fakeTool{name: "mid"})
	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if defs[i].Name != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, defs[i].Name)
		}
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Dispatch(context.Background(), "ghost", Invocation{}); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestDispatchRoutesToTool(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&fakeTool{name: "echo", result: "ok"})
	out, err := r.Dispatch(context.Background(), "echo", Invocation{ID: "i1"})
	if err != nil || out != "ok" {
		t.Fatalf("dispatch: %q %v", out, err)
	}
}
