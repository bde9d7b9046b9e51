// Package agent contains the orchestrator: the turn pipeline that takes an
// inbound message through rate limiting, prompt assembly, the model tool
// loop, and persistence, emitting stream events on the bus along the way.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"amightyclaw/internal/bus"
	"amightyclaw/internal/config"
	"amightyclaw/internal/llm"
	"amightyclaw/internal/logging"
	"amightyclaw/internal/store"
	"amightyclaw/internal/tools"
)

const turnBudget = 10 * time.Minute

// ModelResolver maps a profile name to its backend and settings. Satisfied
// by llm.Registry.
type ModelResolver interface {
	Lookup(name string) (llm.Backend, config.ProfileConfig, bool, error)
}

// Orchestrator serializes turns per conversation while letting distinct
// conversations run concurrently: each conversation gets a lazily created
// worker draining its own queue.
type Orchestrator struct {
	cfg       config.Config
	store     *store.Store
	bus       *bus.Bus
	models    ModelResolver
	tools     *tools.Registry
	assembler *Assembler
	cache     *store.UsageCache
	log       *slog.Logger

	mu     sync.Mutex
	queues map[string]*convQueue
}

type convQueue struct {
	pending []bus.Inbound
	busy    bool
}

func New(cfg config.Config, st *store.Store, b *bus.Bus, models ModelResolver,
	reg *tools.Registry, assembler *Assembler, cache *store.UsageCache) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		bus:       b,
		models:    models,
		tools:     reg,
		assembler: assembler,
		cache:     cache,
		log:       logging.New("agent"),
		queues:    make(map[string]*convQueue),
	}
}

// Run consumes inbound messages until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context) {
	sub := o.bus.Subscribe(bus.KindInbound)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			o.Enqueue(ctx, *ev.Inbound)
		}
	}
}

// Enqueue schedules a turn. Turns within one conversation run strictly in
// arrival order; a worker is spawned if the conversation has none.
func (o *Orchestrator) Enqueue(ctx context.Context, in bus.Inbound) {
	o.mu.Lock()
	q, ok := o.queues[in.ConversationID]
	if !ok {
		q = &convQueue{}
		o.queues[in.ConversationID] = q
	}
	q.pending = append(q.pending, in)
	spawn := !q.busy
	if spawn {
		q.busy = true
	}
	o.mu.Unlock()
	if spawn {
		go o.work(ctx, in.ConversationID)
	}
}

func (o *Orchestrator) work(ctx context.Context, conversationID string) {
	for {
		o.mu.Lock()
		q := o.queues[conversationID]
		if len(q.pending) == 0 {
			q.busy = false
			o.mu.Unlock()
			return
		}
		in := q.pending[0]
		q.pending = q.pending[1:]
		o.mu.Unlock()

		turnCtx, cancel := context.WithTimeout(ctx, turnBudget)
		o.runTurn(turnCtx, in)
		cancel()
	}
}

// runTurn executes the pipeline for one inbound message. Exactly one
// stream-end event is published per turn, on every path.
func (o *Orchestrator) runTurn(ctx context.Context, in bus.Inbound) {
	ended := false
	endStream := func(errMsg string) {
		if ended {
			return
		}
		ended = true
		o.bus.Publish(bus.Event{Kind: bus.KindStreamEnd, StreamEnd: &bus.StreamEnd{
			ConversationID: in.ConversationID,
			Error:          errMsg,
		}})
	}
	reply := func(messageID, text string) {
		endStream("")
		o.bus.Publish(bus.Event{Kind: bus.KindAssistant, Assistant: &bus.Assistant{
			MessageID:      messageID,
			ConversationID: in.ConversationID,
			Channel:        in.Channel,
			Content:        text,
		}})
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("turn panicked", "conversation", in.ConversationID, "panic", r)
			endStream("internal error")
			o.bus.Publish(bus.Event{Kind: bus.KindAssistant, Assistant: &bus.Assistant{
				ConversationID: in.ConversationID,
				Channel:        in.Channel,
				Content:        "Error: internal error",
			}})
		}
	}()

	profileName := strings.TrimSpace(in.Profile)
	if profileName == "" {
		profileName = o.cfg.DefaultProfile
	}
	backend, profile, found, err := o.models.Lookup(profileName)
	if !found {
		// The turn is not persisted: an unknown profile is an addressing
		// error, not part of the conversation.
		reply("", fmt.Sprintf("Error: Profile %q not found.", profileName))
		return
	}
	if err != nil {
		reply("", "Error: "+llm.FriendlyError(err))
		return
	}

	if profile.MaxTokensPerDay > 0 {
		used, err := o.dailyTokens(ctx, profileName)
		if err != nil {
			o.log.Warn("usage lookup failed, allowing turn", "profile", profileName, "error", err)
		} else if used >= int64(profile.MaxTokensPerDay) {
			reply("", fmt.Sprintf("Daily token limit reached for profile %q. Used: %d, Limit: %d.",
				profileName, used, profile.MaxTokensPerDay))
			return
		}
	}

	if err := o.store.EnsureConversation(in.ConversationID, in.Channel); err != nil {
		reply("", "Error: "+err.Error())
		return
	}
	if _, err := o.store.AppendMessage(in.ConversationID, "user", in.Content, profileName, 0); err != nil {
		reply("", "Error: "+err.Error())
		return
	}
	msgCount, countErr := o.store.MessageCount(in.ConversationID)

	msgs, err := o.assembler.Build(in.ConversationID, in.Content, profile)
	if err != nil {
		reply("", "Error: "+err.Error())
		return
	}

	final, completionTokens := o.toolLoop(ctx, in, profileName, backend, profile, msgs)

	saved, err := o.store.AppendMessage(in.ConversationID, "assistant", final, profileName, completionTokens)
	if err != nil {
		o.log.Warn("persist assistant turn failed", "conversation", in.ConversationID, "error", err)
	}
	reply(saved.ID, final)

	if countErr == nil && msgCount <= 2 {
		go o.synthesizeTitle(in.ConversationID, in.Content)
	}
	if !strings.HasPrefix(final, "Error:") {
		go o.extractFacts(in.Content, final)
	}
}

// toolLoop drives the model through tool rounds up to the configured budget.
// The final round withholds tool definitions to force a text answer. Always
// returns the text to persist, substituting an error message on failure,
// together with the completion tokens spent across all rounds.
func (o *Orchestrator) toolLoop(ctx context.Context, in bus.Inbound, profileName string,
	backend llm.Backend, profile config.ProfileConfig, msgs []llm.Message) (string, int) {
	maxRounds := o.cfg.MaxToolRounds
	completion := 0
	for round := 0; ; round++ {
		req := llm.Request{
			Model:       profile.Model,
			Messages:    msgs,
			MaxTokens:   profile.MaxTokensPerMessage,
			Temperature: profile.Temperature,
			TopP:        profile.TopP,
		}
		if round < maxRounds {
			req.Tools = o.tools.Definitions()
		}

		events, err := backend.Stream(ctx, req)
		if err != nil {
			return "Error: " + llm.FriendlyError(err), completion
		}
		var (
			text      strings.Builder
			calls     []llm.ToolCall
			streamErr error
		)
		for ev := range events {
			switch ev.Kind {
			case llm.EventText:
				text.WriteString(ev.Text)
				o.bus.Publish(bus.Event{Kind: bus.KindStreamFragment, StreamFragment: &bus.StreamFragment{
					ConversationID: in.ConversationID,
					Text:           ev.Text,
				}})
			case llm.EventToolCall:
				calls = append(calls, *ev.ToolCall)
			case llm.EventDone:
				completion += ev.Usage.CompletionTokens
				o.recordUsage(ctx, profileName, ev.Usage)
			case llm.EventError:
				streamErr = ev.Err
			}
		}
		if streamErr != nil {
			return "Error: " + llm.FriendlyError(streamErr), completion
		}
		if len(calls) == 0 || round >= maxRounds {
			out := strings.TrimSpace(text.String())
			if out == "" {
				out = "(no response)"
			}
			return out, completion
		}

		msgs = append(msgs, llm.Message{Role: "assistant", Content: text.String(), ToolCalls: calls})
		for _, call := range calls {
			id := call.ID
			if id == "" {
				id = uuid.NewString()
			}
			inv := tools.Invocation{
				ID:             id,
				ConversationID: in.ConversationID,
				Channel:        in.Channel,
				Profile:        profileName,
				Args:           json.RawMessage(call.Arguments),
			}
			o.bus.Publish(bus.Event{Kind: bus.KindToolStarted, Tool: &bus.Tool{
				InvocationID:   id,
				ConversationID: in.ConversationID,
				Name:           call.Name,
			}})
			result, err := o.tools.Dispatch(ctx, call.Name, inv)
			toolErr := ""
			if err != nil {
				// The raw error goes to the model as context, never to the user.
				toolErr = err.Error()
				result = fmt.Sprintf("Tool %q failed: %v", call.Name, err)
			}
			o.bus.Publish(bus.Event{Kind: bus.KindToolCompleted, Tool: &bus.Tool{
				InvocationID:   id,
				ConversationID: in.ConversationID,
				Name:           call.Name,
				Error:          toolErr,
			}})
			msgs = append(msgs, llm.Message{Role: "tool", Content: result, ToolCallID: id})
		}
	}
}

func (o *Orchestrator) dailyTokens(ctx context.Context, profileName string) (int64, error) {
	day := store.DayKey(time.Now())
	if o.cache != nil {
		if total, hit, err := o.cache.Get(ctx, profileName, day); err == nil && hit {
			return total, nil
		}
	}
	total, err := o.store.DailyTokens(profileName, day)
	if err != nil {
		return 0, err
	}
	if o.cache != nil {
		if err := o.cache.Seed(ctx, profileName, day, total); err != nil {
			o.log.Debug("seed usage cache failed", "error", err)
		}
	}
	return total, nil
}

func (o *Orchestrator) recordUsage(ctx context.Context, profileName string, usage llm.Usage) {
	if usage.Total() == 0 {
		return
	}
	if err := o.store.RecordUsage(profileName, usage.PromptTokens, usage.CompletionTokens); err != nil {
		o.log.Warn("record usage failed", "profile", profileName, "error", err)
	}
	if o.cache != nil {
		if err := o.cache.Bump(ctx, profileName, store.DayKey(time.Now()), int64(usage.Total())); err != nil {
			o.log.Debug("bump usage cache failed", "error", err)
		}
	}
}
