package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"amightyclaw/internal/llm"
	"amightyclaw/internal/store"
)

// JobScheduler is the scheduler surface the reminder tools need. Implemented
// by scheduler.Scheduler.
type JobScheduler interface {
	AddJob(name, expression, message, profile string) (store.CronJob, error)
	ListJobs() ([]store.CronJob, error)
	RemoveJob(name string) error
	ToggleJob(name string, enabled bool) error
}

type ReminderSetTool struct {
	Scheduler JobScheduler
}

type reminderSetArgs struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Message    string `json:"message"`
	Profile    string `json:"profile"`
}

func (t *ReminderSetTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name: "reminder_set",
		Description: "Schedule a recurring reminder using a standard 5-field cron expression. " +
			"When it fires, the message is processed as a new request.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":       map[string]any{"type": "string", "description": "Unique reminder name"},
				"expression": map[string]any{"type": "string", "description": "Cron expression, e.g. '0 9 * * *'"},
				"message":    map[string]any{"type": "string", "description": "What to do when the reminder fires"},
				"profile":    map[string]any{"type": "string", "description": "Model profile to run with (optional)"},
			},
			"required": []string{"name", "expression", "message"},
		},
	}
}

func (t *ReminderSetTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in reminderSetArgs
	if err := json.Unmarshal(inv.Args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Message) == "" {
		return "", errors.New("message is required")
	}
	profile := strings.TrimSpace(in.Profile)
	if profile == "" {
		profile = inv.Profile
	}
	job, err := t.Scheduler.AddJob(in.Name, in.Expression, in.Message, profile)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminder %q scheduled (%s).", job.Name, job.Expression), nil
}

type ReminderListTool struct {
	Scheduler JobScheduler
}

func (t *ReminderListTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "reminder_list",
		Description: "List scheduled reminders.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *ReminderListTool) Call(ctx context.Context, inv Invocation) (string, error) {
	jobs, err := t.Scheduler.ListJobs()
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "(no reminders)", nil
	}
	var b strings.Builder
	for _, j := range jobs {
		state := "enabled"
		if !j.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%s [%s] %s - %s\n", j.Name, state, j.Expression, j.Message)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type ReminderRemoveTool struct {
	Scheduler JobScheduler
}

type reminderNameArgs struct {
	Name string `json:"name"`
}

func (t *ReminderRemoveTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "reminder_remove",
		Description: "Delete a reminder by name.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
			"required": []string{"name"},
		},
	}
}

func (t *ReminderRemoveTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in reminderNameArgs
	if err := json.Unmarshal(inv.Args, &in); err != nil {
		return "", err
	}
	if err := t.Scheduler.RemoveJob(in.Name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminder %q removed.", strings.TrimSpace(in.Name)), nil
}

type ReminderToggleTool struct {
	Scheduler JobScheduler
}

type reminderToggleArgs struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (t *ReminderToggleTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "reminder_toggle",
		Description: "Enable or disable a reminder without deleting it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":    map[string]any{"type": "string"},
				"enabled": map[string]any{"type": "boolean"},
			},
			"required": []string{"name", "enabled"},
		},
	}
}

func (t *ReminderToggleTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in reminderToggleArgs
	if err := json.Unmarshal(inv.Args, &in); err != nil {
		return "", err
	}
	if err := t.Scheduler.ToggleJob(in.Name, in.Enabled); err != nil {
		return "", err
	}
	state := "enabled"
	if !in.Enabled {
		state = "disabled"
	}
	return fmt.Sprintf("Reminder %q %s.", strings.TrimSpace(in.Name), state), nil
}
