package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GEMINI_API_KEYS", "GEMINI_API_KEY",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"BRAVE_SEARCH_API_KEY", "SERPAPI_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Fatalf("Provider = %q", cfg.LLM.Provider)
	}
	if cfg.SessionTTL() != 24*time.Hour {
		t.Fatalf("SessionTTL = %v", cfg.SessionTTL())
	}
}

func TestLoadFromYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen_addr: "0.0.0.0:9000"
db_path: "/tmp/r.db"
log_level: debug
session_ttl_hours: 6
llm:
  provider: openai
  model: gpt-4o-mini
  openai_api_key: sk-test
search:
  provider: serpapi
  api_key: serp-test
  cache_ttl_hours: 2
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if cfg.Search.Provider != "serpapi" || cfg.Search.APIKey != "serp-test" {
		t.Fatalf("search = %+v", cfg.Search)
	}
	if cfg.SearchCacheTTL() != 2*time.Hour {
		t.Fatalf("SearchCacheTTL = %v", cfg.SearchCacheTTL())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEnvFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEYS", "key-a, key-b ,,key-c")
	t.Setenv("BRAVE_SEARCH_API_KEY", "brave-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(cfg.LLM.GeminiAPIKeys); got != 3 {
		t.Fatalf("gemini keys = %d, want 3", got)
	}
	if cfg.LLM.GeminiAPIKeys[1] != "key-b" {
		t.Fatalf("key[1] = %q", cfg.LLM.GeminiAPIKeys[1])
	}
	if cfg.Search.Provider != "brave" || cfg.Search.APIKey != "brave-test" {
		t.Fatalf("search = %+v", cfg.Search)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestFileKeysWinOverEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "env-key")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "llm:\n  gemini_api_keys: [file-key]\nsearch:\n  api_key: s\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.LLM.GeminiAPIKeys) != 1 || cfg.LLM.GeminiAPIKeys[0] != "file-key" {
		t.Fatalf("keys = %v", cfg.LLM.GeminiAPIKeys)
	}
}

func TestValidateErrors(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "Gemini") {
		t.Fatalf("Validate = %v, want missing Gemini keys error", err)
	}

	cfg.LLM.Provider = "llamacpp"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("Validate = %v, want unsupported provider error", err)
	}

	cfg.LLM.Provider = "anthropic"
	cfg.LLM.AnthropicAPIKey = "ak"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "search") {
		t.Fatalf("Validate = %v, want missing search key error", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{
		ListenAddr: "127.0.0.1:7777",
		LLM:        LLMConfig{Provider: "gemini", GeminiAPIKeys: []string{"k1"}},
		Search:     SearchConfig{Provider: "brave", APIKey: "b"},
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ListenAddr != "127.0.0.1:7777" {
		t.Fatalf("ListenAddr = %q", got.ListenAddr)
	}
	if len(got.LLM.GeminiAPIKeys) != 1 || got.LLM.GeminiAPIKeys[0] != "k1" {
		t.Fatalf("keys = %v", got.LLM.GeminiAPIKeys)
	}
}
