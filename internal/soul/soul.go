// Package soul loads the persona document that anchors every system prompt.
package soul

import (
	"os"
	"strings"
	"sync"
	"time"
)

const defaultPersona = `You are a capable, pragmatic personal assistant.
Be direct and concise. Use the available tools when they genuinely help.
Admit when you don't know something instead of guessing.`

// Soul serves the persona text, rereading the backing file when its mtime
// changes so edits land without a restart.
type Soul struct {
	path string

	mu      sync.Mutex
	content string
	modTime time.Time
	loaded  bool
}

func New(path string) *Soul {
	return &Soul{path: path}
}

// Content returns the current persona. A missing or unreadable file falls
// back to the built-in default.
func (s *Soul) Content() string {
	if s == nil {
		return defaultPersona
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		s.loaded = false
		return defaultPersona
	}
	if s.loaded && info.ModTime().Equal(s.modTime) {
		return s.content
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.loaded = false
		return defaultPersona
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		text = defaultPersona
	}
	s.content = text
	s.modTime = info.ModTime()
	s.loaded = true
	return s.content
}

// Write replaces the persona file on disk.
func (s *Soul) Write(content string) error {
	if err := os.WriteFile(s.path, []byte(content), 0o644); err != nil {
		return err
	}
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	return nil
}
