package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func skillArgs(t *testing.T, m map[string]string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return raw
}

func TestSkillWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	write := &SkillWriteTool{Dir: dir}
	read := &SkillReadTool{Dir: dir}

	out, err := write.Call(context.Background(), Invocation{Args: skillArgs(t, map[string]string{
		"name": "greet.sh", "content": "#!/bin/sh\necho hi",
	})})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(out, "greet.sh") {
		t.Fatalf("unexpected write result: %q", out)
	}

	info, err := os.Stat(filepath.Join(dir, "greet.sh"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("skill not executable: %v", info.Mode())
	}

	body, err := read.Call(context.Background(), Invocation{Args: skillArgs(t, map[string]string{"name": "greet.sh"})})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(body, "echo hi") {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestSkillNameTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	write := &SkillWriteTool{Dir: dir}
	for _, name := range []string{"../escape.sh", "a/b.sh", "..", "sub\\x.sh"} {
		_, err := write.Call(context.Background(), Invocation{Args: skillArgs(t, map[string]string{
			"name": name, "content": "x",
		})})
		if err == nil {
			t.Fatalf("expected rejection for %q", name)
		}
	}
}

func TestSkillListEmptyAndPopulated(t *testing.T) {
	dir := t.TempDir()
	list := &SkillListTool{Dir: dir}
	out, err := list.Call(context.Background(), Invocation{})
	if err != nil || out != "(no skills)" {
		t.Fatalf("empty list: %q %v", out, err)
	}

	write := &SkillWriteTool{Dir: dir}
	for _, name := range []string{"b.sh", "a.sh"} {
		if _, err := write.Call(context.Background(), Invocation{Args: skillArgs(t, map[string]string{
			"name": name, "content": "x",
		})}); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	out, err = list.Call(context.Background(), Invocation{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "a.sh\nb.sh" {
		t.Fatalf("expected sorted listing, got %q", out)
	}
}
