package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"amightyclaw/internal/llm"
)

const (
	defaultExecTimeout = 30 * time.Second
	maxCommandOutput   = 10000
	truncationMarker   = "... (output truncated)"

	deniedByUser    = "User denied the command execution."
	deniedByTimeout = "Confirmation timed out; command not executed."
)

// Approver gates dangerous operations behind a human decision. Implemented
// by the orchestrator's confirmation gate.
type Approver interface {
	// RequestApproval blocks until the command is approved, denied, or the
	// approval window lapses. The string is the denial message when approved
	// is false.
	RequestApproval(ctx context.Context, inv Invocation, command string) (approved bool, denial string)
}

// RunCommandTool executes shell commands, with a deny list checked before
// any approval round-trip and every surviving command gated by the Approver.
type RunCommandTool struct {
	Approver Approver
	DenyList []string
	Timeout  time.Duration
}

type runCommandArgs struct {
	Command string `json:"command"`
}

func (t *RunCommandTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name: "run_command",
		Description: "Execute a shell command on the host and return its output. " +
			"Execution requires explicit approval from the user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to run",
				},
			},
			"required": []string{"command"},
		},
	}
}

func (t *RunCommandTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in runCommandArgs
	if err := json.Unmarshal(inv.Args, &in); err != nil {
		return "", fmt.Errorf("run_command: invalid JSON arguments: %w", err)
	}
	command := strings.TrimSpace(in.Command)
	if command == "" {
		return "", errors.New("command is required")
	}

	if pattern, blocked := matchDenyList(command, t.DenyList); blocked {
		return fmt.Sprintf("Command rejected: matches blocked pattern %q.", pattern), nil
	}

	if t.Approver != nil {
		approved, denial := t.Approver.RequestApproval(ctx, inv, command)
		if !approved {
			if denial == "" {
				denial = deniedByUser
			}
			return denial, nil
		}
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var combined bytes.Buffer
	capture := &limitedBuffer{buf: &combined, max: maxCommandOutput}

	cmd := shellCommand(cmdCtx, command)
	cmd.Stdout = capture
	cmd.Stderr = capture
	// Bound how long Wait can hang if orphaned children keep pipes open.
	cmd.WaitDelay = 500 * time.Millisecond
	configureCommandCancellation(cmd)

	start := time.Now()
	err := cmd.Run()
	timedOut := errors.Is(cmdCtx.Err(), context.DeadlineExceeded)

	exitCode, errorType := classifyExecError(err)
	if timedOut {
		exitCode, errorType = -1, "timeout"
	}

	output := strings.TrimRight(combined.String(), "\n")
	if capture.TruncatedBytes() > 0 {
		output += "\n" + truncationMarker
	}
	if output == "" {
		output = "(no output)"
	}

	return fmt.Sprintf(
		"exit_code: %d\nduration_ms: %d\ntimed_out: %t\nerror_type: %s\noutput:\n%s",
		exitCode, time.Since(start).Milliseconds(), timedOut, errorType, output,
	), nil
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

func matchDenyList(command string, patterns []string) (string, bool) {
	lower := strings.ToLower(command)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

type limitedBuffer struct {
	buf       *bytes.Buffer
	max       int
	truncated int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if l.max <= 0 {
		return l.buf.Write(p)
	}
	remaining := l.max - l.buf.Len()
	if remaining <= 0 {
		l.truncated += len(p)
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated += len(p) - remaining
		p = p[:remaining]
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) TruncatedBytes() int { return l.truncated }

func classifyExecError(err error) (exitCode int, errorType string) {
	if err == nil {
		return 0, "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return -1, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return -1, "canceled"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), "non_zero_exit"
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		if errors.Is(execErr.Err, exec.ErrNotFound) {
			return -1, "command_not_found"
		}
		return -1, "exec_error"
	}
	return -1, "runtime_error"
}
