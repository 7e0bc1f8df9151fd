package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicDefaultModel           = "claude-sonnet-4-5"
	anthropicDefaultMaxOutputTokens = 2048
)

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing anthropic api key", ErrAuth)
	}
	opts := []aoption.RequestOption{aoption.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, aoption.WithBaseURL(baseURL))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = anthropicDefaultModel
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	if p == nil {
		return "", errors.New("nil anthropic provider")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicDefaultMaxOutputTokens,
		Messages:  buildAnthropicMessages(messages),
	}
	if len(params.Messages) == 0 {
		return "", errors.New("no messages to send")
	}
	if opts.MaxOutputTokens > 0 {
		params.MaxTokens = int64(opts.MaxOutputTokens)
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	system := collectSystemPrompt(messages)
	if opts.JSONMode {
		// The Messages API has no JSON response mode; instruct instead.
		system = strings.TrimSpace(system + "\n\nRespond with ONLY a valid JSON object, no markdown fences.")
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", mapAnthropicError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty message content", ErrProviderRejected)
	}
	return text, nil
}

func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			// Folded into params.System by the caller.
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("TOOL OUTPUT:\n"+text)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}
	return out
}

func mapAnthropicError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return statusError(apierr.StatusCode, apierr.Error())
	}
	return err
}
