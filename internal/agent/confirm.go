package agent

import (
	"context"
	"sync"
	"time"

	"amightyclaw/internal/bus"
	"amightyclaw/internal/tools"
)

const (
	deniedByUser      = "User denied the command execution."
	deniedByTimeout   = "Confirmation timed out; command not executed."
	deniedByDuplicate = "An approval for this invocation is already pending; command not executed."
)

// Gate routes dangerous operations through a human decision. A request
// publishes an approval-request event and blocks until a response arrives or
// the window lapses; timeout denies. Each pending id resolves exactly once.
type Gate struct {
	bus     *bus.Bus
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan bool
}

// NewGate builds a gate with the given approval window. The window should
// exceed the execution timeout so an approval landing late in the window
// still leaves the command its full budget.
func NewGate(b *bus.Bus, timeout time.Duration) *Gate {
	return &Gate{
		bus:     b,
		timeout: timeout,
		pending: make(map[string]chan bool),
	}
}

// Run consumes approval responses from the bus until ctx is canceled.
func (g *Gate) Run(ctx context.Context) {
	sub := g.bus.Subscribe(bus.KindApprovalResponse)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			g.Resolve(ev.ApprovalResponse.InvocationID, ev.ApprovalResponse.Approved)
		}
	}
}

// Resolve delivers a decision for a pending invocation. Late or duplicate
// responses are dropped.
func (g *Gate) Resolve(invocationID string, approved bool) bool {
	ch, ok := g.take(invocationID)
	if !ok {
		return false
	}
	ch <- approved
	return true
}

// RequestApproval implements tools.Approver. A second request for an id that
// is already pending is denied immediately; registering it would strand the
// first waiter with no channel a Resolve could ever reach.
func (g *Gate) RequestApproval(ctx context.Context, inv tools.Invocation, command string) (bool, string) {
	ch := make(chan bool, 1)
	g.mu.Lock()
	if _, exists := g.pending[inv.ID]; exists {
		g.mu.Unlock()
		return false, deniedByDuplicate
	}
	g.pending[inv.ID] = ch
	g.mu.Unlock()

	g.bus.Publish(bus.Event{Kind: bus.KindApprovalRequest, ApprovalRequest: &bus.ApprovalRequest{
		InvocationID:   inv.ID,
		ConversationID: inv.ConversationID,
		Channel:        inv.Channel,
		Command:        command,
	}})

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case approved := <-ch:
		if !approved {
			return false, deniedByUser
		}
		return true, ""
	case <-timer.C:
		// A response may have won the race; if take fails the decision is
		// already in the channel.
		if _, ok := g.take(inv.ID); !ok {
			if approved := <-ch; approved {
				return true, ""
			}
			return false, deniedByUser
		}
		return false, deniedByTimeout
	case <-ctx.Done():
		if _, ok := g.take(inv.ID); !ok {
			<-ch
		}
		return false, deniedByTimeout
	}
}

func (g *Gate) take(invocationID string) (chan bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.pending[invocationID]
	if ok {
		delete(g.pending, invocationID)
	}
	return ch, ok
}
