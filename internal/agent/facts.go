package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const factExtractionPrompt = `Extract durable facts about the user from this exchange.
Return a JSON array of objects with "content" and "category" fields.
Categories: preference, biographical, project, instruction, general.
Only include facts worth remembering across conversations. Return [] if there are none.
Respond with the JSON array only, no prose.`

// extractFacts mines one (user, assistant) exchange for long-term facts via
// the lightweight extraction profile. Best effort: malformed model output or
// store failures are logged at debug and swallowed.
func (o *Orchestrator) extractFacts(userText, assistantText string) {
	backend, profile, ok, err := o.models.Lookup(o.cfg.ExtractionProfile)
	if !ok || err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	answer, _, err := complete(ctx, backend, llmExtractionRequest(profile.Model, userText, assistantText))
	if err != nil {
		o.log.Debug("fact extraction failed", "error", err)
		return
	}
	var facts []struct {
		Content  string `json:"content"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(answer)), &facts); err != nil {
		o.log.Debug("fact extraction returned malformed JSON", "error", err)
		return
	}
	for _, f := range facts {
		if strings.TrimSpace(f.Content) == "" {
			continue
		}
		if _, err := o.store.AddFact(f.Content, f.Category, "auto-extracted"); err != nil {
			o.log.Debug("store fact failed", "error", err)
		}
	}
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
