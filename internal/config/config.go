package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultHistoryMessages = 20
	DefaultFactLimit       = 5
	DefaultToolRounds      = 5
)

type ProfileConfig struct {
	Provider             string  `json:"provider"` // anthropic|openai|ollama
	Model                string  `json:"model"`
	APIKey               string  `json:"api_key"`
	BaseURL              string  `json:"base_url,omitempty"`
	MaxTokensPerMessage  int     `json:"max_tokens_per_message,omitempty"`
	MaxTokensPerDay      int     `json:"max_tokens_per_day"`
	Temperature          float64 `json:"temperature,omitempty"`
	TopP                 float64 `json:"top_p,omitempty"`
	SystemPromptOverride string  `json:"system_prompt_override,omitempty"`
	MaxHistoryMessages   int     `json:"max_history_messages,omitempty"`
}

type PhantomBusterConfig struct {
	APIKey                string `json:"api_key"`
	TweetExtractorAgentID string `json:"tweet_extractor_agent_id,omitempty"`
	SearchExportAgentID   string `json:"search_export_agent_id,omitempty"`
}

type EmailConfig struct {
	Address        string   `json:"address"`
	Password       string   `json:"password"`
	IMAPHost       string   `json:"imap_host"`
	IMAPPort       int      `json:"imap_port,omitempty"`
	SMTPHost       string   `json:"smtp_host"`
	SMTPPort       int      `json:"smtp_port,omitempty"`
	PollInterval   string   `json:"poll_interval,omitempty"`
	AllowedSenders []string `json:"allowed_senders,omitempty"`
}

type Config struct {
	Host          string `json:"host,omitempty"`
	Port          int    `json:"port,omitempty"`
	Password      string `json:"password"`
	TokenSecret   string `json:"token_secret"`
	EncryptionKey string `json:"encryption_key,omitempty"`
	DataDir       string `json:"data_dir,omitempty"`
	LogLevel      string `json:"log_level,omitempty"`

	Profiles          map[string]ProfileConfig `json:"profiles"`
	DefaultProfile    string                   `json:"default_profile,omitempty"`
	ExtractionProfile string                   `json:"extraction_profile,omitempty"`

	BraveAPIKey   string               `json:"brave_api_key,omitempty"`
	RedisURL      string               `json:"redis_url,omitempty"`
	PhantomBuster *PhantomBusterConfig `json:"phantombuster,omitempty"`
	Email         *EmailConfig         `json:"email,omitempty"`

	MaxExecutionTimeout string   `json:"max_execution_timeout,omitempty"`
	ConfirmationMargin  string   `json:"confirmation_margin,omitempty"`
	CommandDenyList     []string `json:"command_deny_list,omitempty"`
	MaxToolRounds       int      `json:"max_tool_rounds,omitempty"`
}

func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".amightyclaw", "config.json")
	}
	return filepath.Join(home, ".amightyclaw", "config.json")
}

func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	cfg.applyDefaults(path)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(path string) {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 3779
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = filepath.Dir(path)
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if strings.TrimSpace(c.DefaultProfile) == "" {
		c.DefaultProfile = c.FirstProfile()
	}
	if strings.TrimSpace(c.ExtractionProfile) == "" {
		c.ExtractionProfile = c.DefaultProfile
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultToolRounds
	}
	if v := strings.TrimSpace(os.Getenv("AMIGHTYCLAW_ENCRYPTION_KEY")); v != "" {
		c.EncryptionKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AMIGHTYCLAW_REDIS_URL")); v != "" {
		c.RedisURL = v
	}
}

func (c *Config) validate() error {
	if len(c.Profiles) == 0 {
		return errors.New("at least one profile is required")
	}
	for name, p := range c.Profiles {
		if strings.TrimSpace(p.Provider) == "" {
			return fmt.Errorf("profile %q: provider is required", name)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("profile %q: model is required", name)
		}
		if p.MaxTokensPerDay <= 0 {
			return fmt.Errorf("profile %q: max_tokens_per_day must be > 0", name)
		}
	}
	return nil
}

// FirstProfile returns the lexically smallest profile name so the choice is
// stable across runs (Go map iteration order is randomized).
func (c *Config) FirstProfile() string {
	best := ""
	for name := range c.Profiles {
		if best == "" || name < best {
			best = name
		}
	}
	return best
}

func (c *Config) Profile(name string) (ProfileConfig, bool) {
	p, ok := c.Profiles[strings.TrimSpace(name)]
	return p, ok
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "amightyclaw.db")
}

func (c *Config) SkillsDir() string {
	return filepath.Join(c.DataDir, "skills")
}

func (c *Config) SoulPath() string {
	return filepath.Join(c.DataDir, "SOUL.md")
}

func (c *Config) ExecutionTimeout() time.Duration {
	return parseDurationOrDefault(c.MaxExecutionTimeout, 30*time.Second)
}

func (c *Config) ApprovalMargin() time.Duration {
	return parseDurationOrDefault(c.ConfirmationMargin, 10*time.Second)
}

// ApprovalTimeout leaves an approved command its full execution budget even
// when the approval lands just before the deadline.
func (c *Config) ApprovalTimeout() time.Duration {
	return c.ExecutionTimeout() + c.ApprovalMargin()
}

func (c *Config) DenyList() []string {
	if len(c.CommandDenyList) > 0 {
		return c.CommandDenyList
	}
	return []string{
		"rm -rf /", "rm -rf ~", "mkfs", ":(){", "dd if=", "> /dev/sd",
		"chmod -R 777 /", "format c:", "del /f /s /q",
	}
}

func parseDurationOrDefault(raw string, fallback time.Duration) time.Duration {
	text := strings.TrimSpace(raw)
	if text == "" {
		return fallback
	}
	d, err := time.ParseDuration(text)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
