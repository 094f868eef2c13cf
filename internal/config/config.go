// Package config handles Parley configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/parley/config.yaml, /etc/parley/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "parley", "config.yaml"))
	}

	paths = append(paths, "/etc/parley/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Parley configuration.
type Config struct {
	Telegram     TelegramConfig `yaml:"telegram"`
	Models       ModelsConfig   `yaml:"models"`
	Tools        ToolsConfig    `yaml:"tools"`
	Web          WebConfig      `yaml:"web"`
	SystemPrompt string         `yaml:"system_prompt"`
	Stream       bool           `yaml:"stream"`
	DataDir      string         `yaml:"data_dir"`
	LogLevel     string         `yaml:"log_level"`
	LogFormat    string         `yaml:"log_format"` // text or json
}

// TelegramConfig defines the Bot API connection.
type TelegramConfig struct {
	// Token is the bot token. Usually supplied as ${BOT_TOKEN} via the
	// environment or a .env file rather than written into the config.
	Token string `yaml:"token"`
	// Username is the bot's @username without the at sign, used for
	// mention detection in group chats.
	Username string `yaml:"username"`
	// PollTimeoutSec is the getUpdates long-poll timeout (default 30).
	PollTimeoutSec int `yaml:"poll_timeout_sec"`
}

// ModelsConfig defines which models serve which pipeline stage.
type ModelsConfig struct {
	// Chat is the model that generates user-facing replies.
	Chat string `yaml:"chat"`
	// Decision is the cheaper model behind the reply/observe gate.
	// Falls back to Chat when empty.
	Decision string `yaml:"decision"`
	// OllamaURL is the backend base URL (default http://localhost:11434).
	OllamaURL string `yaml:"ollama_url"`
	// Options are free-form model parameters (temperature, num_predict,
	// ...) passed through to the backend unmodified.
	Options map[string]any `yaml:"options"`
}

// ToolsConfig bounds the tool-calling loop.
type ToolsConfig struct {
	// MaxRounds caps tool execute-and-requery rounds per message
	// (default 3). The bound terminates the loop quietly; the last
	// generated text is the final answer.
	MaxRounds int `yaml:"max_rounds"`
}

// WebConfig defines the optional debug/observability server.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // default: 8321
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets can stay out of the file.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeoutSec: 30,
		},
		Models: ModelsConfig{
			Chat:      "gemma3:4b",
			OllamaURL: "http://localhost:11434",
		},
		Tools: ToolsConfig{
			MaxRounds: 3,
		},
		Web: WebConfig{
			Port: 8321,
		},
		SystemPrompt: "You are a helpful assistant. Answer questions clearly and concisely.",
		Stream:       true,
		DataDir:      "data",
	}
}

// Validate checks for required fields and consistent values.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required (set BOT_TOKEN or telegram.token)")
	}
	if c.Models.Chat == "" {
		return fmt.Errorf("models.chat is required")
	}
	if c.Tools.MaxRounds < 1 {
		return fmt.Errorf("tools.max_rounds must be at least 1 (got %d)", c.Tools.MaxRounds)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json (got %q)", c.LogFormat)
	}
	return nil
}

// DecisionModel returns the gate model, falling back to the chat model.
func (c *Config) DecisionModel() string {
	if c.Models.Decision != "" {
		return c.Models.Decision
	}
	return c.Models.Chat
}
