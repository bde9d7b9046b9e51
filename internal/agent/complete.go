package agent

import (
	"context"
	"errors"
	"strings"

	"amightyclaw/internal/llm"
)

// complete drains a backend stream into a single text answer. Used by the
// background tasks (titles, fact extraction) that have no streaming surface.
func complete(ctx context.Context, backend llm.Backend, req llm.Request) (string, llm.Usage, error) {
	events, err := backend.Stream(ctx, req)
	if err != nil {
		return "", llm.Usage{}, err
	}
	var (
		text  strings.Builder
		usage llm.Usage
	)
	for ev := range events {
		switch ev.Kind {
		case llm.EventText:
			text.WriteString(ev.Text)
		case llm.EventDone:
			usage = ev.Usage
		case llm.EventError:
			return "", usage, ev.Err
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", usage, errors.New("empty completion")
	}
	return out, usage, nil
}
