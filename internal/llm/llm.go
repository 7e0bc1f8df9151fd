package llm

import (
	"context"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Options struct {
	// Temperature is applied when > 0; providers keep their default otherwise.
	Temperature float64
	// MaxOutputTokens caps the response; 0 means provider default.
	MaxOutputTokens int
	// JSONMode requests a JSON-object response where the provider supports it.
	JSONMode bool
}

// Provider issues one generation call against a configured model.
// Implementations map provider failures onto the error taxonomy in errors.go.
type Provider interface {
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)
}

type Config struct {
	Provider        string
	Model           string
	BaseURL         string
	GeminiAPIKeys   []string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

func NewProvider(cfg Config) (Provider, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Provider)) {
	case "", "gemini":
		return NewGeminiProvider(GeminiConfig{
			APIKeys: cfg.GeminiAPIKeys,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
}

// collectSystemPrompt joins all system messages into one instruction block.
func collectSystemPrompt(messages []Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == RoleSystem && strings.TrimSpace(m.Content) != "" {
			parts = append(parts, strings.TrimSpace(m.Content))
		}
	}
	return strings.Join(parts, "\n\n")
}
