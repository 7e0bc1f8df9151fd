package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	geminiDefaultModel   = "gemini-2.5-flash"
	geminiMaxBodyBytes   = 4 << 20 // 4 MiB (defensive)
)

type GeminiConfig struct {
	APIKeys []string
	Model   string
	BaseURL string
}

// GeminiProvider calls the generateContent REST endpoint directly. Multiple
// API keys rotate round-robin; a key that hits the rate limit is marked
// failed so the next call tries a different one.
type GeminiProvider struct {
	keys    *KeyRing
	model   string
	baseURL string
	client  *http.Client
}

func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	keys := NewKeyRing(cfg.APIKeys)
	if keys.Len() == 0 {
		return nil, fmt.Errorf("%w: no gemini api keys", ErrAuth)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = geminiDefaultModel
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	return &GeminiProvider{
		keys:    keys,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	if p == nil {
		return "", errors.New("nil gemini provider")
	}
	contents := buildGeminiContents(messages)
	if len(contents) == 0 {
		return "", errors.New("no messages to send")
	}

	payload := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
	}
	if opts.JSONMode {
		payload.GenerationConfig.ResponseMimeType = "application/json"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	apiKey, err := p.keys.Next()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", p.baseURL, p.model, apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, geminiMaxBodyBytes))
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == 429 || resp.StatusCode == 401 || resp.StatusCode == 403 {
			p.keys.MarkFailed(apiKey)
		}
		return "", statusError(resp.StatusCode, string(raw))
	}

	var decoded geminiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: invalid response body", ErrProviderRejected)
	}
	text := geminiText(decoded)
	if text == "" {
		return "", fmt.Errorf("%w: empty candidate text", ErrProviderRejected)
	}
	return text, nil
}

// buildGeminiContents maps the role-tagged turns onto the Gemini contents
// array: assistant turns become "model", tool output is labelled user text,
// and system turns are folded into the first user content.
func buildGeminiContents(messages []Message) []geminiContent {
	system := collectSystemPrompt(messages)
	var contents []geminiContent
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			continue
		case RoleAssistant:
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: text}}})
		case RoleTool:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: "TOOL OUTPUT:\n" + text}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: text}}})
		}
	}
	if system != "" {
		if len(contents) > 0 && contents[0].Role == "user" {
			contents[0].Parts[0].Text = system + "\n\n" + contents[0].Parts[0].Text
		} else {
			contents = append([]geminiContent{{Role: "user", Parts: []geminiPart{{Text: system}}}}, contents...)
		}
	}
	return contents
}

func geminiText(resp geminiResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
		break
	}
	return strings.TrimSpace(sb.String())
}
