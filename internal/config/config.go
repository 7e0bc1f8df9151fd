// Package config loads the agent configuration from a YAML file with
// environment fallbacks for credentials, so a bare install can run from env
// vars alone.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr = "127.0.0.1:8087"
	DefaultDBPath     = "data/research.db"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`

	LLM    LLMConfig    `yaml:"llm"`
	Search SearchConfig `yaml:"search"`

	// SessionTTLHours is the inactivity window before a session expires.
	SessionTTLHours int `yaml:"session_ttl_hours"`
}

type LLMConfig struct {
	// Provider is gemini, openai, or anthropic.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`

	GeminiAPIKeys   []string `yaml:"gemini_api_keys"`
	OpenAIAPIKey    string   `yaml:"openai_api_key"`
	AnthropicAPIKey string   `yaml:"anthropic_api_key"`
}

type SearchConfig struct {
	// Provider is brave or serpapi.
	Provider      string `yaml:"provider"`
	APIKey        string `yaml:"api_key"`
	CacheTTLHours int    `yaml:"cache_ttl_hours"`
}

func DefaultConfigPath() string {
	if env := strings.TrimSpace(os.Getenv("RESEARCH_AGENT_CONFIG")); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "config.yaml"
	}
	return filepath.Join(home, ".research-agent", "config.yaml")
}

// Load reads the config file when present and fills credential gaps from the
// environment. A missing file is not an error; env-only setups are valid.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// Fall through to env and defaults.
		default:
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if len(c.LLM.GeminiAPIKeys) == 0 {
		if keys := strings.TrimSpace(os.Getenv("GEMINI_API_KEYS")); keys != "" {
			for _, k := range strings.Split(keys, ",") {
				if k = strings.TrimSpace(k); k != "" {
					c.LLM.GeminiAPIKeys = append(c.LLM.GeminiAPIKeys, k)
				}
			}
		} else if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
			c.LLM.GeminiAPIKeys = []string{key}
		}
	}
	if c.LLM.OpenAIAPIKey == "" {
		c.LLM.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if c.LLM.AnthropicAPIKey == "" {
		c.LLM.AnthropicAPIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}
	if c.Search.APIKey == "" {
		if key := strings.TrimSpace(os.Getenv("BRAVE_SEARCH_API_KEY")); key != "" {
			c.Search.APIKey = key
			if c.Search.Provider == "" {
				c.Search.Provider = "brave"
			}
		} else if key := strings.TrimSpace(os.Getenv("SERPAPI_API_KEY")); key != "" {
			c.Search.APIKey = key
			if c.Search.Provider == "" {
				c.Search.Provider = "serpapi"
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = DefaultDBPath
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if strings.TrimSpace(c.LLM.Provider) == "" {
		c.LLM.Provider = "gemini"
	}
	if strings.TrimSpace(c.Search.Provider) == "" {
		c.Search.Provider = "brave"
	}
	if c.SessionTTLHours <= 0 {
		c.SessionTTLHours = 24
	}
	if c.Search.CacheTTLHours <= 0 {
		c.Search.CacheTTLHours = 1
	}
}

// Validate checks that the configured providers have credentials. Missing
// credentials are a configuration error surfaced verbatim; nothing retries
// around them.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case "", "gemini":
		if len(c.LLM.GeminiAPIKeys) == 0 {
			return errors.New("no Gemini API keys configured (set GEMINI_API_KEYS or llm.gemini_api_keys)")
		}
	case "openai":
		if strings.TrimSpace(c.LLM.OpenAIAPIKey) == "" {
			return errors.New("no OpenAI API key configured (set OPENAI_API_KEY or llm.openai_api_key)")
		}
	case "anthropic":
		if strings.TrimSpace(c.LLM.AnthropicAPIKey) == "" {
			return errors.New("no Anthropic API key configured (set ANTHROPIC_API_KEY or llm.anthropic_api_key)")
		}
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}

	if strings.TrimSpace(c.Search.APIKey) == "" {
		return errors.New("no web search API key configured (set BRAVE_SEARCH_API_KEY, SERPAPI_API_KEY, or search.api_key)")
	}
	return nil
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) SearchCacheTTL() time.Duration {
	return time.Duration(c.Search.CacheTTLHours) * time.Hour
}

// Save writes the config file, creating its directory when needed. Used by
// the init subcommand to scaffold a starter config.
func (c *Config) Save(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("missing config path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
