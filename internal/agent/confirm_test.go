package agent

import (
	"context"
	"testing"
	"time"

	"amightyclaw/internal/bus"
	"amightyclaw/internal/tools"
)

func TestGateApproval(t *testing.T) {
	b := bus.New()
	g := NewGate(b, 5*time.Second)
	sub := b.Subscribe(bus.KindApprovalRequest)
	defer sub.Close()

	done := make(chan struct{})
	var approved bool
	var denial string
	go func() {
		approved, denial = g.RequestApproval(context.Background(),
			tools.Invocation{ID: "inv-1", ConversationID: "c1", Channel: "webchat"}, "ls -la")
		close(done)
	}()

	select {
	case ev := <-sub.C():
		req := ev.ApprovalRequest
		if req.InvocationID != "inv-1" || req.Command != "ls -la" {
			t.Fatalf("unexpected request: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no approval request published")
	}

	if !g.Resolve("inv-1", true) {
		t.Fatal("resolve should succeed for a pending invocation")
	}
	<-done
	if !approved || denial != "" {
		t.Fatalf("expected approval, got %v %q", approved, denial)
	}
}

func TestGateDenial(t *testing.T) {
	b := bus.New()
	g := NewGate(b, 5*time.Second)

	done := make(chan struct{})
	var approved bool
	var denial string
	go func() {
		approved, denial = g.RequestApproval(context.Background(),
			tools.Invocation{ID: "inv-2"}, "rm file")
		close(done)
	}()

	waitForPending(t, g, "inv-2")
	g.Resolve("inv-2", false)
	<-done
	if approved {
		t.Fatal("expected denial")
	}
	if denial != deniedByUser {
		t.Fatalf("expected %q, got %q", deniedByUser, denial)
	}
}

func TestGateTimeoutDenies(t *testing.T) {
	b := bus.New()
	g := NewGate(b, 50*time.Millisecond)

	approved, denial := g.RequestApproval(context.Background(),
		tools.Invocation{ID: "inv-3"}, "echo hi")
	if approved {
		t.Fatal("expected timeout denial")
	}
	if denial != deniedByTimeout {
		t.Fatalf("expected %q, got %q", deniedByTimeout, denial)
	}
}

func TestGateLateResolveIsDropped(t *testing.T) {
	b := bus.New()
	g := NewGate(b, 50*time.Millisecond)

	g.RequestApproval(context.Background(), tools.Invocation{ID: "inv-4"}, "echo hi")
	if g.Resolve("inv-4", true) {
		t.Fatal("resolve after timeout must be a no-op")
	}
}

func TestGateDuplicateResolve(t *testing.T) {
	b := bus.New()
	g := NewGate(b, 5*time.Second)

	done := make(chan struct{})
	go func() {
		g.RequestApproval(context.Background(), tools.Invocation{ID: "inv-5"}, "echo hi")
		close(done)
	}()

	waitForPending(t, g, "inv-5")
	if !g.Resolve("inv-5", true) {
		t.Fatal("first resolve should win")
	}
	if g.Resolve("inv-5", false) {
		t.Fatal("second resolve must be dropped")
	}
	<-done
}

func TestGateDuplicateRequestDeniedWhilePending(t *testing.T) {
	b := bus.New()
	g := NewGate(b, 5*time.Second)

	done := make(chan struct{})
	var approved bool
	go func() {
		approved, _ = g.RequestApproval(context.Background(),
			tools.Invocation{ID: "inv-7"}, "echo hi")
		close(done)
	}()

	waitForPending(t, g, "inv-7")
	dupApproved, denial := g.RequestApproval(context.Background(),
		tools.Invocation{ID: "inv-7"}, "echo hi")
	if dupApproved {
		t.Fatal("second request for a pending id must be denied")
	}
	if denial != deniedByDuplicate {
		t.Fatalf("expected %q, got %q", deniedByDuplicate, denial)
	}

	// The first waiter is untouched and still resolvable.
	if !g.Resolve("inv-7", true) {
		t.Fatal("original invocation should still be pending")
	}
	<-done
	if !approved {
		t.Fatal("original waiter should receive the approval")
	}
}

func TestGateRunConsumesBusResponses(t *testing.T) {
	b := bus.New()
	g := NewGate(b, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	done := make(chan bool, 1)
	go func() {
		approved, _ := g.RequestApproval(context.Background(), tools.Invocation{ID: "inv-6"}, "echo hi")
		done <- approved
	}()

	waitForPending(t, g, "inv-6")
	b.Publish(bus.Event{Kind: bus.KindApprovalResponse, ApprovalResponse: &bus.ApprovalResponse{
		InvocationID: "inv-6",
		Approved:     true,
	}})

	select {
	case approved := <-done:
		if !approved {
			t.Fatal("expected approval via bus response")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("approval response not consumed")
	}
}

func waitForPending(t *testing.T, g *Gate, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		_, ok := g.pending[id]
		g.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("invocation %s never became pending", id)
}
