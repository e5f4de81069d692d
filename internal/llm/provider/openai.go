package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/workrecap/workrecap/internal/types"
)

const openAIBaseURL = "https://api.openai.com/v1"

// reasoningModelPrefixes are model families that reject explicit output
// caps; the cap is omitted and the vendor default applies.
var reasoningModelPrefixes = []string{"gpt-5", "o3", "o4"}

func isReasoningModel(model string) bool {
	for _, prefix := range reasoningModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// OpenAI is the chat-completions provider with batch support.
type OpenAI struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(apiKey string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key required")
	}
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: openAIBaseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}, nil
}

// WithBaseURL points the provider at a different endpoint. Used by tests.
func (p *OpenAI) WithBaseURL(baseURL string) *OpenAI {
	clone := *p
	clone.baseURL = strings.TrimRight(baseURL, "/")
	return &clone
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

type openAIChatRequest struct {
	Model               string              `json:"model"`
	Messages            []openAIMessage     `json:"messages"`
	ResponseFormat      *openAIFormat       `json:"response_format,omitempty"`
	MaxCompletionTokens int                 `json:"max_completion_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

func (u openAIUsage) toTokenUsage() types.TokenUsage {
	return types.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		CallCount:        1,
		CacheReadTokens:  u.PromptTokensDetails.CachedTokens,
	}
}

// Chat sends one exchange. The system prompt is auto-cached by the vendor
// for long prompts, so CacheSystemPrompt is a no-op here.
func (p *OpenAI) Chat(ctx context.Context, model, systemPrompt, userContent string, opts ChatOptions) (string, types.TokenUsage, error) {
	req := openAIChatRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
	}
	if opts.JSONMode {
		req.ResponseFormat = &openAIFormat{Type: "json_object"}
	}
	if opts.MaxTokens > 0 && !isReasoningModel(model) {
		req.MaxCompletionTokens = opts.MaxTokens
	}

	var resp openAIChatResponse
	err := doJSON(ctx, p.http, p.Name(), http.MethodPost, p.baseURL+"/chat/completions", p.headers(), req, &resp)
	if err != nil {
		return "", types.TokenUsage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", types.TokenUsage{}, errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, resp.Usage.toTokenUsage(), nil
}

// ListModels enumerates the account's models.
func (p *OpenAI) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	err := doJSON(ctx, p.http, p.Name(), http.MethodGet, p.baseURL+"/models", p.headers(), nil, &resp)
	if err != nil {
		return nil, err
	}
	var models []ModelInfo
	for _, m := range resp.Data {
		models = append(models, ModelInfo{ID: m.ID, DisplayName: m.ID, Provider: p.Name()})
	}
	return models, nil
}

// ── Batch API ──

type openAIBatchLine struct {
	CustomID string            `json:"custom_id"`
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Body     openAIChatRequest `json:"body"`
}

// SubmitBatch uploads a JSONL input file and creates a 24h batch.
func (p *OpenAI) SubmitBatch(ctx context.Context, requests []BatchRequest) (string, error) {
	if len(requests) == 0 {
		return "", errors.New("openai: empty batch")
	}
	var jsonl bytes.Buffer
	for _, req := range requests {
		body := openAIChatRequest{
			Model: req.Model,
			Messages: []openAIMessage{
				{Role: "system", Content: req.SystemPrompt},
				{Role: "user", Content: req.UserContent},
			},
		}
		if req.JSONMode {
			body.ResponseFormat = &openAIFormat{Type: "json_object"}
		}
		if req.MaxTokens > 0 && !isReasoningModel(req.Model) {
			body.MaxCompletionTokens = req.MaxTokens
		}
		line := openAIBatchLine{
			CustomID: req.CustomID,
			Method:   http.MethodPost,
			URL:      "/v1/chat/completions",
			Body:     body,
		}
		if err := writeJSONLine(&jsonl, line); err != nil {
			return "", err
		}
	}

	fileID, err := p.uploadFile(ctx, "batch_input.jsonl", jsonl.Bytes())
	if err != nil {
		return "", err
	}

	var batch struct {
		ID string `json:"id"`
	}
	createReq := map[string]string{
		"input_file_id":     fileID,
		"endpoint":          "/v1/chat/completions",
		"completion_window": "24h",
	}
	if err := doJSON(ctx, p.http, p.Name(), http.MethodPost, p.baseURL+"/batches", p.headers(), createReq, &batch); err != nil {
		return "", fmt.Errorf("openai: create batch: %w", err)
	}
	slog.Info("submitted openai batch", "batch_id", batch.ID, "requests", len(requests))
	return batch.ID, nil
}

func writeJSONLine(buf *bytes.Buffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}

func (p *OpenAI) uploadFile(ctx context.Context, name string, content []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(content); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/files", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: upload batch file: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &uploaded); err != nil {
		return "", err
	}
	return uploaded.ID, nil
}

type openAIBatch struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OutputFileID string `json:"output_file_id"`
	ErrorFileID  string `json:"error_file_id"`
}

// GetBatchStatus maps the vendor batch status to the normalized one.
func (p *OpenAI) GetBatchStatus(ctx context.Context, batchID string) (BatchStatus, error) {
	batch, err := p.getBatch(ctx, batchID)
	if err != nil {
		return "", err
	}
	switch batch.Status {
	case "validating":
		return BatchSubmitted, nil
	case "in_progress", "finalizing":
		return BatchProcessing, nil
	case "completed":
		return BatchCompleted, nil
	case "failed", "cancelled", "cancelling":
		return BatchFailed, nil
	case "expired":
		return BatchExpired, nil
	default:
		return BatchProcessing, nil
	}
}

func (p *OpenAI) getBatch(ctx context.Context, batchID string) (*openAIBatch, error) {
	var batch openAIBatch
	err := doJSON(ctx, p.http, p.Name(), http.MethodGet, p.baseURL+"/batches/"+batchID, p.headers(), nil, &batch)
	if err != nil {
		return nil, fmt.Errorf("openai: batch status: %w", err)
	}
	return &batch, nil
}

// GetBatchResults downloads and parses the output file of a finished batch.
func (p *OpenAI) GetBatchResults(ctx context.Context, batchID string) ([]BatchResult, error) {
	batch, err := p.getBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.OutputFileID == "" {
		slog.Warn("openai batch has no output file", "batch_id", batchID)
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/files/"+batch.OutputFileID+"/content", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: download batch output: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	var results []BatchResult
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry struct {
			CustomID string `json:"custom_id"`
			Response struct {
				StatusCode int `json:"status_code"`
				Body       struct {
					Choices []struct {
						Message openAIMessage `json:"message"`
					} `json:"choices"`
					Usage openAIUsage `json:"usage"`
					Error struct {
						Message string `json:"message"`
					} `json:"error"`
				} `json:"body"`
			} `json:"response"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Warn("skipping malformed batch output line", "err", err)
			continue
		}
		if entry.Response.StatusCode == 200 && len(entry.Response.Body.Choices) > 0 {
			results = append(results, BatchResult{
				CustomID: entry.CustomID,
				Content:  entry.Response.Body.Choices[0].Message.Content,
				Usage:    entry.Response.Body.Usage.toTokenUsage(),
			})
		} else {
			msg := entry.Response.Body.Error.Message
			if msg == "" {
				msg = fmt.Sprintf("status %d", entry.Response.StatusCode)
			}
			results = append(results, BatchResult{CustomID: entry.CustomID, Err: msg})
		}
	}
	slog.Info("retrieved openai batch results", "batch_id", batchID, "results", len(results))
	return results, nil
}
