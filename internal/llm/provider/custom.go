package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/workrecap/workrecap/internal/types"
)

// Custom targets any OpenAI-compatible server (Ollama, vLLM, LM Studio).
// Local servers differ wildly in what they honor, so only the plain chat
// shape is sent; JSON mode and output caps are left to the prompt. Batch is
// not offered.
type Custom struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewCustom creates a provider for an OpenAI-compatible endpoint.
func NewCustom(apiKey, baseURL string) (*Custom, error) {
	if baseURL == "" {
		return nil, errors.New("custom: base_url required")
	}
	return &Custom{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (p *Custom) Name() string { return "custom" }

func (p *Custom) headers() map[string]string {
	h := map[string]string{}
	if p.apiKey != "" {
		h["Authorization"] = "Bearer " + p.apiKey
	}
	return h
}

// Chat sends one exchange. Local models may omit usage stats; the call is
// still counted.
func (p *Custom) Chat(ctx context.Context, model, systemPrompt, userContent string, opts ChatOptions) (string, types.TokenUsage, error) {
	req := openAIChatRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
	}
	var resp openAIChatResponse
	err := doJSON(ctx, p.http, p.Name(), http.MethodPost, p.baseURL+"/chat/completions", p.headers(), req, &resp)
	if err != nil {
		return "", types.TokenUsage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", types.TokenUsage{}, errors.New("custom: empty response")
	}
	usage := resp.Usage.toTokenUsage()
	usage.CallCount = 1
	return resp.Choices[0].Message.Content, usage, nil
}

// ListModels enumerates the server's models.
func (p *Custom) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := doJSON(ctx, p.http, p.Name(), http.MethodGet, p.baseURL+"/models", p.headers(), nil, &resp); err != nil {
		return nil, err
	}
	var models []ModelInfo
	for _, m := range resp.Data {
		models = append(models, ModelInfo{ID: m.ID, DisplayName: m.ID, Provider: p.Name()})
	}
	return models, nil
}
