// Package llm abstracts model providers behind a streaming Backend. Each
// request yields an ordered event stream terminated by exactly one Done or
// Error event; the orchestrator never touches provider SDKs directly.
package llm

import "context"

type Message struct {
	Role       string     `json:"role"` // system|user|assistant|tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-requested tool invocation. Arguments is the raw JSON
// the model produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises one callable tool. Parameters is a JSON Schema
// object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
	TopP        float64
}

type EventKind int

const (
	EventText EventKind = iota
	EventToolCall
	EventDone
	EventError
)

// Event is one element of a backend stream. Text events carry incremental
// output; ToolCall events carry a complete accumulated call; Done closes the
// stream with final usage. After an Error no further events follow.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall *ToolCall
	Usage    Usage
	Err      error
}

type Backend interface {
	// Stream starts a completion. The returned channel is closed after the
	// terminal Done or Error event.
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}
