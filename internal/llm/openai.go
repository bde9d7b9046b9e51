package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

// OpenAIBackend speaks the Chat Completions API. It also serves any
// OpenAI-compatible endpoint (ollama, vllm, openrouter) via BaseURL.
type OpenAIBackend struct {
	client openai.Client
}

func NewOpenAIBackend(apiKey, baseURL string) (*OpenAIBackend, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, errors.New("api key is required")
	}
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(key)}
	if base := strings.TrimSpace(baseURL); base != "" {
		opts = append(opts, openaioption.WithBaseURL(base))
	}
	return &OpenAIBackend{client: openai.NewClient(opts...)}, nil
}

// aggCall accumulates partial tool-call deltas keyed by stream index until
// the chunk stream finishes.
type aggCall struct{ id, name, args string }

func (b *OpenAIBackend) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if b == nil {
		return nil, errors.New("nil backend")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, errors.New("model is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP != 0 {
		params.TopP = openai.Float(req.TopP)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.Parameters),
				},
			}
		}
		params.Tools = tools
	}

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		stream := b.client.Chat.Completions.NewStreaming(ctx, params)
		toolAgg := map[int64]*aggCall{}
		var order []int64
		var usage Usage
		for stream.Next() {
			ck := stream.Current()
			if ck.Usage.TotalTokens > 0 {
				usage = Usage{
					PromptTokens:     int(ck.Usage.PromptTokens),
					CompletionTokens: int(ck.Usage.CompletionTokens),
				}
			}
			for _, choice := range ck.Choices {
				if choice.Delta.Content != "" {
					out <- Event{Kind: EventText, Text: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
						order = append(order, tc.Index)
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					if tc.Function.Arguments != "" {
						ac.args += tc.Function.Arguments
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- Event{Kind: EventError, Err: err}
			return
		}
		for _, idx := range order {
			ac := toolAgg[idx]
			out <- Event{Kind: EventToolCall, ToolCall: &ToolCall{
				ID:        ac.id,
				Name:      ac.name,
				Arguments: ac.args,
			}}
		}
		out <- Event{Kind: EventDone, Usage: usage}
	}()
	return out, nil
}

// toOpenAIMessages maps the normalized history onto chat-completions message
// unions; tool results ride as tool-role messages referencing their call id.
func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.TrimSpace(strings.ToLower(m.Role)) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, call := range m.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				}
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: calls,
			}
			if strings.TrimSpace(m.Content) != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, openai.UserMessage(m.Content))
			}
		}
	}
	return out
}
