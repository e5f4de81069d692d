package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/workrecap/workrecap/internal/types"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini is the generateContent provider with batch support. Prompt caching
// is implicit on the vendor side; cache hits show up as
// cachedContentTokenCount in the usage metadata.
type Gemini struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewGemini creates a Gemini provider.
func NewGemini(apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key required")
	}
	return &Gemini{
		apiKey:  apiKey,
		baseURL: geminiBaseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}, nil
}

// WithBaseURL points the provider at a different endpoint. Used by tests.
func (p *Gemini) WithBaseURL(baseURL string) *Gemini {
	clone := *p
	clone.baseURL = strings.TrimRight(baseURL, "/")
	return &clone
}

func (p *Gemini) Name() string { return "gemini" }

func (p *Gemini) headers() map[string]string {
	return map[string]string{"x-goog-api-key": p.apiKey}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
	MaxOutputTokens  int    `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
}

func (m geminiUsageMetadata) toTokenUsage() types.TokenUsage {
	return types.TokenUsage{
		PromptTokens:     m.PromptTokenCount,
		CompletionTokens: m.CandidatesTokenCount,
		TotalTokens:      m.TotalTokenCount,
		CallCount:        1,
		CacheReadTokens:  m.CachedContentTokenCount,
	}
}

func (p *Gemini) buildRequest(systemPrompt, userContent string, opts ChatOptions) geminiGenerateRequest {
	req := geminiGenerateRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userContent}}},
		},
	}
	config := geminiGenerationConfig{}
	if opts.JSONMode {
		config.ResponseMimeType = "application/json"
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = opts.MaxTokens
	}
	if config != (geminiGenerationConfig{}) {
		req.GenerationConfig = &config
	}
	return req
}

// Chat sends one exchange.
func (p *Gemini) Chat(ctx context.Context, model, systemPrompt, userContent string, opts ChatOptions) (string, types.TokenUsage, error) {
	req := p.buildRequest(systemPrompt, userContent, opts)
	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)

	var resp geminiGenerateResponse
	if err := doJSON(ctx, p.http, p.Name(), http.MethodPost, url, p.headers(), req, &resp); err != nil {
		return "", types.TokenUsage{}, err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", types.TokenUsage{}, errors.New("gemini: empty response")
	}
	return resp.Candidates[0].Content.Parts[0].Text, resp.UsageMetadata.toTokenUsage(), nil
}

// ListModels enumerates the available models.
func (p *Gemini) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var resp struct {
		Models []struct {
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"models"`
	}
	if err := doJSON(ctx, p.http, p.Name(), http.MethodGet, p.baseURL+"/models", p.headers(), nil, &resp); err != nil {
		return nil, err
	}
	var models []ModelInfo
	for _, m := range resp.Models {
		display := m.DisplayName
		if display == "" {
			display = m.Name
		}
		models = append(models, ModelInfo{ID: m.Name, DisplayName: display, Provider: p.Name()})
	}
	return models, nil
}

// ── Batch API ──

type geminiBatchEntry struct {
	Request  geminiGenerateRequest `json:"request"`
	Metadata struct {
		Key string `json:"key"`
	} `json:"metadata"`
}

// SubmitBatch creates an inline batch job against the model of the first
// request and returns the long-running operation name.
func (p *Gemini) SubmitBatch(ctx context.Context, requests []BatchRequest) (string, error) {
	if len(requests) == 0 {
		return "", errors.New("gemini: empty batch")
	}
	model := requests[0].Model
	entries := make([]geminiBatchEntry, 0, len(requests))
	for _, req := range requests {
		entry := geminiBatchEntry{Request: p.buildRequest(req.SystemPrompt, req.UserContent, req.ChatOptions)}
		entry.Metadata.Key = req.CustomID
		entries = append(entries, entry)
	}

	body := map[string]any{
		"batch": map[string]any{
			"displayName": "workrecap batch",
			"inputConfig": map[string]any{
				"requests": map[string]any{"requests": entries},
			},
		},
	}
	var op struct {
		Name string `json:"name"`
	}
	url := fmt.Sprintf("%s/models/%s:batchGenerateContent", p.baseURL, model)
	if err := doJSON(ctx, p.http, p.Name(), http.MethodPost, url, p.headers(), body, &op); err != nil {
		return "", fmt.Errorf("gemini: submit batch: %w", err)
	}
	slog.Info("submitted gemini batch", "operation", op.Name, "requests", len(requests))
	return op.Name, nil
}

type geminiOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Metadata struct {
		State string `json:"state"`
	} `json:"metadata"`
	Response struct {
		InlinedResponses struct {
			InlinedResponses []struct {
				Metadata struct {
					Key string `json:"key"`
				} `json:"metadata"`
				Response *geminiGenerateResponse `json:"response"`
				Error    *struct {
					Message string `json:"message"`
				} `json:"error"`
			} `json:"inlinedResponses"`
		} `json:"inlinedResponses"`
	} `json:"response"`
}

func (p *Gemini) getOperation(ctx context.Context, name string) (*geminiOperation, error) {
	var op geminiOperation
	url := p.baseURL + "/" + strings.TrimPrefix(name, "/")
	if err := doJSON(ctx, p.http, p.Name(), http.MethodGet, url, p.headers(), nil, &op); err != nil {
		return nil, fmt.Errorf("gemini: batch operation: %w", err)
	}
	return &op, nil
}

// GetBatchStatus maps the operation state to the normalized status.
func (p *Gemini) GetBatchStatus(ctx context.Context, batchID string) (BatchStatus, error) {
	op, err := p.getOperation(ctx, batchID)
	if err != nil {
		return "", err
	}
	state := op.Metadata.State
	switch {
	case strings.HasSuffix(state, "PENDING"):
		return BatchSubmitted, nil
	case strings.HasSuffix(state, "SUCCEEDED"):
		return BatchCompleted, nil
	case strings.HasSuffix(state, "FAILED"), strings.HasSuffix(state, "CANCELLED"):
		return BatchFailed, nil
	case strings.HasSuffix(state, "EXPIRED"):
		return BatchExpired, nil
	case op.Done:
		return BatchCompleted, nil
	default:
		return BatchProcessing, nil
	}
}

// GetBatchResults reads the inlined responses of a finished operation.
func (p *Gemini) GetBatchResults(ctx context.Context, batchID string) ([]BatchResult, error) {
	op, err := p.getOperation(ctx, batchID)
	if err != nil {
		return nil, err
	}
	var results []BatchResult
	for _, entry := range op.Response.InlinedResponses.InlinedResponses {
		key := entry.Metadata.Key
		if entry.Response == nil || len(entry.Response.Candidates) == 0 ||
			len(entry.Response.Candidates[0].Content.Parts) == 0 {
			msg := "no response for entry"
			if entry.Error != nil {
				msg = entry.Error.Message
			}
			results = append(results, BatchResult{CustomID: key, Err: msg})
			continue
		}
		results = append(results, BatchResult{
			CustomID: key,
			Content:  entry.Response.Candidates[0].Content.Parts[0].Text,
			Usage:    entry.Response.UsageMetadata.toTokenUsage(),
		})
	}
	slog.Info("retrieved gemini batch results", "operation", batchID, "results", len(results))
	return results, nil
}
