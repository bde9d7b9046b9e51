package tools

import (
	"context"
	"strings"
	"testing"
	"unicode"

	"amightyclaw/internal/store"
)

type fakeScheduler struct {
	jobs    []store.CronJob
	removed []string
	toggled map[string]bool
}

func (f *fakeScheduler) AddJob(name, expression, message, profile string) (store.CronJob, error) {
	job := store.CronJob{Name: name, Expression: expression, Message: message, Profile: profile, Enabled: true}
	f.jobs = append(f.jobs, job)
	return job, nil
}

func (f *fakeScheduler) ListJobs() ([]store.CronJob, error) { return f.jobs, nil }

func (f *fakeScheduler) RemoveJob(name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeScheduler) ToggleJob(name string, enabled bool) error {
	if f.toggled == nil {
		f.toggled = map[string]bool{}
	}
	f.toggled[name] = enabled
	return nil
}

func TestReminderSetDefaultsProfileFromInvocation(t *testing.T) {
	sched := &fakeScheduler{}
	tool := &ReminderSetTool{Scheduler: sched}
	out, err := tool.Call(context.Background(), Invocation{
		Profile: "main",
		Args:    []byte(`{"name":"brief","expression":"0 9 * * *","message":"summarize my day"}`),
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !strings.Contains(out, `"brief"`) {
		t.Fatalf("confirmation should name the reminder: %q", out)
	}
	if len(sched.jobs) != 1 || sched.jobs[0].Profile != "main" {
		t.Fatalf("invocation profile not applied: %+v", sched.jobs)
	}

	if _, err := tool.Call(context.Background(), Invocation{
		Args: []byte(`{"name":"x","expression":"* * * * *","message":"  "}`),
	}); err == nil {
		t.Fatal("blank message must be rejected")
	}
}

func TestReminderListRendersPlainLines(t *testing.T) {
	sched := &fakeScheduler{jobs: []store.CronJob{
		{Name: "brief", Expression: "0 9 * * *", Message: "summarize my day", Enabled: true},
		{Name: "standup", Expression: "30 8 * * 1-5", Message: "prep standup notes", Enabled: false},
	}}
	tool := &ReminderListTool{Scheduler: sched}
	out, err := tool.Call(context.Background(), Invocation{Args: []byte(`{}`)})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out)
	}
	if lines[0] != "brief [enabled] 0 9 * * * - summarize my day" {
		t.Fatalf("unexpected line format: %q", lines[0])
	}
	if !strings.Contains(lines[1], "[disabled]") {
		t.Fatalf("disabled state missing: %q", lines[1])
	}
	// Output goes back to the model verbatim; keep it plain ASCII.
	for _, r := range out {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune %q in list output: %q", r, out)
		}
	}

	empty := &ReminderListTool{Scheduler: &fakeScheduler{}}
	out, err = empty.Call(context.Background(), Invocation{Args: []byte(`{}`)})
	if err != nil || out != "(no reminders)" {
		t.Fatalf("empty list: %q (%v)", out, err)
	}
}

func TestReminderRemoveAndToggle(t *testing.T) {
	sched := &fakeScheduler{}
	remove := &ReminderRemoveTool{Scheduler: sched}
	if _, err := remove.Call(context.Background(), Invocation{Args: []byte(`{"name":"brief"}`)}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(sched.removed) != 1 || sched.removed[0] != "brief" {
		t.Fatalf("remove not forwarded: %v", sched.removed)
	}

	toggle := &ReminderToggleTool{Scheduler: sched}
	out, err := toggle.Call(context.Background(), Invocation{Args: []byte(`{"name":"brief","enabled":false}`)})
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !strings.Contains(out, "disabled") {
		t.Fatalf("toggle confirmation: %q", out)
	}
	if enabled, ok := sched.toggled["brief"]; !ok || enabled {
		t.Fatalf("toggle not forwarded: %v", sched.toggled)
	}
}
