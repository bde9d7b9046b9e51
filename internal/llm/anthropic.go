package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicMaxTokens = 4096
)

type AnthropicBackend struct {
	client anthropic.Client
}

func NewAnthropicBackend(apiKey, baseURL string) (*AnthropicBackend, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, errors.New("api key is required")
	}
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(key),
		anthropicoption.WithBaseURL(resolvedAnthropicBaseURL(baseURL)),
	}
	return &AnthropicBackend{client: anthropic.NewClient(opts...)}, nil
}

func resolvedAnthropicBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		base = defaultAnthropicBaseURL
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/v1")
	return strings.TrimRight(base, "/") + "/"
}

func (b *AnthropicBackend) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if b == nil {
		return nil, errors.New("nil backend")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, errors.New("model is required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system, messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := anthropic.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Model:     anthropic.Model(model),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP != 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		stream := b.client.Messages.NewStreaming(ctx, params)
		acc := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				out <- Event{Kind: EventError, Err: fmt.Errorf("accumulate: %w", err)}
				return
			}
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					out <- Event{Kind: EventText, Text: delta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- Event{Kind: EventError, Err: err}
			return
		}
		for _, block := range acc.Content {
			if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
				out <- Event{Kind: EventToolCall, ToolCall: &ToolCall{
					ID:        tu.ID,
					Name:      tu.Name,
					Arguments: string(tu.Input),
				}}
			}
		}
		out <- Event{Kind: EventDone, Usage: Usage{
			PromptTokens:     int(acc.Usage.InputTokens),
			CompletionTokens: int(acc.Usage.OutputTokens),
		}}
	}()
	return out, nil
}

// toAnthropicMessages splits leading system messages into the system prompt
// and folds consecutive tool results into single user messages, as the API
// requires.
func toAnthropicMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	var systemTexts []string
	cursor := 0
	for cursor < len(msgs) && strings.EqualFold(strings.TrimSpace(msgs[cursor].Role), "system") {
		if strings.TrimSpace(msgs[cursor].Content) != "" {
			systemTexts = append(systemTexts, msgs[cursor].Content)
		}
		cursor++
	}
	var system []anthropic.TextBlockParam
	if len(systemTexts) > 0 {
		system = []anthropic.TextBlockParam{{Text: strings.Join(systemTexts, "\n\n")}}
	}

	out := make([]anthropic.MessageParam, 0, len(msgs)-cursor)
	var pendingResults []anthropic.ContentBlockParamUnion
	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for ; cursor < len(msgs); cursor++ {
		m := msgs[cursor]
		switch strings.TrimSpace(strings.ToLower(m.Role)) {
		case "tool":
			if strings.TrimSpace(m.ToolCallID) == "" {
				return nil, nil, errors.New("tool message missing tool_call_id")
			}
			isError := strings.HasPrefix(m.Content, "ERROR:")
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isError))
		case "user", "system":
			flushResults()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			flushResults()
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if strings.TrimSpace(m.Content) != "" || len(m.ToolCalls) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				var input any = map[string]any{}
				if args := strings.TrimSpace(call.Arguments); args != "" {
					if err := json.Unmarshal([]byte(args), &input); err != nil {
						input = map[string]any{"__raw": args}
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("unsupported message role: %q", m.Role)
		}
	}
	flushResults()
	return system, out, nil
}

func toAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := anthropic.ToolParam{
			Name:        t.Name,
			InputSchema: toAnthropicInputSchema(t.Parameters),
		}
		if desc := strings.TrimSpace(t.Description); desc != "" {
			tool.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func toAnthropicInputSchema(params map[string]any) anthropic.ToolInputSchemaParam {
	out := anthropic.ToolInputSchemaParam{}
	out.Type = out.Type.Default()
	extras := make(map[string]any)
	for key, value := range params {
		switch key {
		case "properties":
			out.Properties = value
		case "required":
			out.Required = toStringSlice(value)
		case "type":
			// SDK defaults to "object".
		default:
			extras[key] = value
		}
	}
	if len(extras) > 0 {
		out.ExtraFields = extras
	}
	return out
}

func toStringSlice(v any) []string {
	switch raw := v.(type) {
	case []string:
		return append([]string{}, raw...)
	case []any:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
