package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

const openaiDefaultModel = "gpt-4.1-mini"

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type OpenAIProvider struct {
	client openai.Client
	model  string
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing openai api key", ErrAuth)
	}
	opts := []ooption.RequestOption{ooption.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, ooption.WithBaseURL(baseURL))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openaiDefaultModel
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	if p == nil {
		return "", errors.New("nil openai provider")
	}

	params := oresponses.ResponseNewParams{
		Model: oshared.ResponsesModel(p.model),
	}
	if opts.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(opts.MaxOutputTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.JSONMode {
		obj := oshared.NewResponseFormatJSONObjectParam()
		params.Text = oresponses.ResponseTextConfigParam{
			Format: oresponses.ResponseFormatTextConfigUnionParam{OfJSONObject: &obj},
		}
	}

	items := buildOpenAIInput(messages)
	if len(items) == 0 {
		return "", errors.New("no messages to send")
	}
	params.Input = oresponses.ResponseNewParamsInputUnion{OfInputItemList: items}
	if system := collectSystemPrompt(messages); system != "" {
		params.Instructions = openai.String(system)
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return "", mapOpenAIError(err)
	}
	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", fmt.Errorf("%w: empty output text", ErrProviderRejected)
	}
	return text, nil
}

func buildOpenAIInput(messages []Message) oresponses.ResponseInputParam {
	var items oresponses.ResponseInputParam
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			// Folded into params.Instructions by the caller.
		case RoleAssistant:
			items = append(items, oresponses.ResponseInputItemParamOfMessage(text, oresponses.EasyInputMessageRoleAssistant))
		case RoleTool:
			items = append(items, oresponses.ResponseInputItemParamOfMessage("TOOL OUTPUT:\n"+text, oresponses.EasyInputMessageRoleUser))
		default:
			items = append(items, oresponses.ResponseInputItemParamOfMessage(text, oresponses.EasyInputMessageRoleUser))
		}
	}
	return items
}

func mapOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return statusError(apierr.StatusCode, apierr.Message)
	}
	return err
}
