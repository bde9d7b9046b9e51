package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"amightyclaw/internal/llm"
)

// Skill tools give the model a sandboxed script directory. Names are plain
// file names; anything that could escape the sandbox is rejected.

func validSkillName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name is required")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid skill name: %q", name)
	}
	return name, nil
}

type SkillWriteTool struct {
	Dir string
}

type skillWriteArgs struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (t *SkillWriteTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "skill_write",
		Description: "Save a reusable script to the skills directory. Overwrites an existing skill of the same name.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":    map[string]any{"type": "string", "description": "File name, no path separators"},
				"content": map[string]any{"type": "string", "description": "Script content"},
			},
			"required": []string{"name", "content"},
		},
	}
}

func (t *SkillWriteTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in skillWriteArgs
	if err := json.Unmarshal(inv.Args, &in); err != nil {
		return "", err
	}
	name, err := validSkillName(in.Name)
	if err != nil {
		return "", err
	}
	if in.Content == "" {
		return "", errors.New("content is required")
	}
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(t.Dir, name)
	if err := os.WriteFile(path, []byte(in.Content), 0o755); err != nil {
		return "", err
	}
	return fmt.Sprintf("saved skill %q (%d bytes)", name, len(in.Content)), nil
}

type SkillReadTool struct {
	Dir string
}

type skillReadArgs struct {
	Name string `json:"name"`
}

func (t *SkillReadTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "skill_read",
		Description: "Read a saved skill's content by name.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
			"required": []string{"name"},
		},
	}
}

func (t *SkillReadTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in skillReadArgs
	if err := json.Unmarshal(inv.Args, &in); err != nil {
		return "", err
	}
	name, err := validSkillName(in.Name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(t.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("skill %q not found", name)
		}
		return "", err
	}
	return string(data), nil
}

type SkillListTool struct {
	Dir string
}

func (t *SkillListTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "skill_list",
		Description: "List saved skills.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *SkillListTool) Call(ctx context.Context, inv Invocation) (string, error) {
	entries, err := os.ReadDir(t.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "(no skills)", nil
		}
		return "", err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "(no skills)", nil
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}
