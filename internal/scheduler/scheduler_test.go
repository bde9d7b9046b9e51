package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"amightyclaw/internal/bus"
	"amightyclaw/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store, *bus.Bus) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sched.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	b := bus.New()
	s := New(st, b)
	t.Cleanup(s.Stop)
	return s, st, b
}

func TestValidateRejectsBadExpressions(t *testing.T) {
	if err := Validate("0 9 * * *"); err != nil {
		t.Fatalf("standard expression rejected: %v", err)
	}
	if err := Validate("@daily"); err != nil {
		t.Fatalf("descriptor rejected: %v", err)
	}
	for _, bad := range []string{"", "not a cron", "99 99 * * *", "* * * *"} {
		if err := Validate(bad); err == nil {
			t.Fatalf("expected rejection for %q", bad)
		}
	}
}

func TestAddJobPersistsAndArms(t *testing.T) {
	s, st, _ := newTestScheduler(t)
	job, err := s.AddJob("brief", "0 9 * * *", "morning brief", "main")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !job.Enabled {
		t.Fatal("new job should be enabled")
	}
	if _, err := st.GetCronJob("brief"); err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if armed := s.ArmedJobs(); len(armed) != 1 || armed[0] != "brief" {
		t.Fatalf("expected one armed job, got %v", armed)
	}
}

func TestAddJobRejectsInvalidExpressionBeforePersisting(t *testing.T) {
	s, st, _ := newTestScheduler(t)
	if _, err := s.AddJob("broken", "nope", "msg", ""); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := st.GetCronJob("broken"); err != store.ErrNotFound {
		t.Fatalf("invalid job must not be persisted, got %v", err)
	}
}

func TestToggleDisarmsAndRearms(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	if _, err := s.AddJob("brief", "0 9 * * *", "m", ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.ToggleJob("brief", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if armed := s.ArmedJobs(); len(armed) != 0 {
		t.Fatalf("disabled job still armed: %v", armed)
	}
	if err := s.ToggleJob("brief", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if armed := s.ArmedJobs(); len(armed) != 1 {
		t.Fatalf("enabled job not rearmed: %v", armed)
	}
}

func TestRemoveJobDisarms(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	if _, err := s.AddJob("brief", "@hourly", "m", ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.RemoveJob("brief"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if armed := s.ArmedJobs(); len(armed) != 0 {
		t.Fatalf("removed job still armed: %v", armed)
	}
	if err := s.RemoveJob("brief"); err == nil {
		t.Fatal("expected error removing unknown job")
	}
}

func TestFireSynthesizesInboundMessage(t *testing.T) {
	s, st, b := newTestScheduler(t)
	sub := b.Subscribe(bus.KindInbound)
	defer sub.Close()

	if _, err := s.AddJob("ping", "* * * * *", "check status", "main"); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.fire("ping")

	select {
	case ev := <-sub.C():
		in := ev.Inbound
		if in.ConversationID != "cron:ping" || in.Channel != "scheduler" {
			t.Fatalf("unexpected inbound: %+v", in)
		}
		if in.Content != "check status" || in.Profile != "main" {
			t.Fatalf("unexpected payload: %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message published")
	}

	job, err := st.GetCronJob("ping")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.LastRun == "" {
		t.Fatal("last_run not stamped on fire")
	}
}

func TestDisabledJobDoesNotFire(t *testing.T) {
	s, _, b := newTestScheduler(t)
	sub := b.Subscribe(bus.KindInbound)
	defer sub.Close()

	if _, err := s.AddJob("quiet", "* * * * *", "m", ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.ToggleJob("quiet", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	s.fire("quiet")

	select {
	case ev := <-sub.C():
		t.Fatalf("disabled job fired: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
