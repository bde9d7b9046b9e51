package agent

import (
	"fmt"
	"strings"
	"time"

	"amightyclaw/internal/config"
	"amightyclaw/internal/llm"
	"amightyclaw/internal/soul"
	"amightyclaw/internal/store"
)

// Assembler builds the prompt for one turn: persona, relevant long-term
// facts, then the recent history window in chronological order.
type Assembler struct {
	Soul         *soul.Soul
	Store        *store.Store
	HistoryLimit int
	FactLimit    int
}

func (a *Assembler) historyLimit(p config.ProfileConfig) int {
	if p.MaxHistoryMessages > 0 {
		return p.MaxHistoryMessages
	}
	if a.HistoryLimit > 0 {
		return a.HistoryLimit
	}
	return config.DefaultHistoryMessages
}

func (a *Assembler) factLimit() int {
	if a.FactLimit > 0 {
		return a.FactLimit
	}
	return config.DefaultFactLimit
}

// Build returns the message list for a turn whose user message is already
// persisted, so the history window closes with it.
func (a *Assembler) Build(conversationID, userText string, p config.ProfileConfig) ([]llm.Message, error) {
	system := a.systemPrompt(userText, p)
	history, err := a.Store.RecentMessages(conversationID, a.historyLimit(p))
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: system})
	for _, m := range history {
		role := m.Role
		if role != "user" && role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return msgs, nil
}

func (a *Assembler) systemPrompt(userText string, p config.ProfileConfig) string {
	persona := strings.TrimSpace(p.SystemPromptOverride)
	if persona == "" {
		persona = a.Soul.Content()
	}
	var b strings.Builder
	b.WriteString(persona)

	if facts, err := a.Store.SearchFacts(userText, a.factLimit()); err == nil && len(facts) > 0 {
		b.WriteString("\n\nKnown facts about the user:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Category, f.Content)
		}
	}

	fmt.Fprintf(&b, "\nCurrent time: %s", time.Now().UTC().Format(time.RFC1123))
	return b.String()
}
