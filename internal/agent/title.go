package agent

import (
	"context"
	"strings"
	"time"

	"amightyclaw/internal/llm"
)

// synthesizeTitle names a conversation after its first exchange. Failures
// are logged only; the conversation keeps an empty title.
func (o *Orchestrator) synthesizeTitle(conversationID, userText string) {
	backend, profile, ok, err := o.models.Lookup(o.cfg.ExtractionProfile)
	if !ok || err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	answer, _, err := complete(ctx, backend, llm.Request{
		Model: profile.Model,
		Messages: []llm.Message{
			{Role: "system", Content: "Produce a short conversation title, at most 6 words. Reply with the title only."},
			{Role: "user", Content: userText},
		},
		MaxTokens: 50,
	})
	if err != nil {
		o.log.Debug("title synthesis failed", "conversation", conversationID, "error", err)
		return
	}
	title := strings.Trim(strings.TrimSpace(answer), `"'`)
	if title == "" {
		return
	}
	if err := o.store.SetConversationTitle(conversationID, title); err != nil {
		o.log.Debug("set title failed", "conversation", conversationID, "error", err)
	}
}

func llmExtractionRequest(model, userText, assistantText string) llm.Request {
	return llm.Request{
		Model: model,
		Messages: []llm.Message{
			{Role: "system", Content: factExtractionPrompt},
			{Role: "user", Content: "User: " + userText + "\n\nAssistant: " + assistantText},
		},
		MaxTokens: 500,
	}
}
