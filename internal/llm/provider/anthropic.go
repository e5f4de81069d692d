package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/workrecap/workrecap/internal/types"
)

const anthropicDefaultMaxTokens = 4096

// Anthropic is the Messages API provider with batch support.
type Anthropic struct {
	client         anthropic.Client
	maxRetries     int
	initialBackoff time.Duration
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(apiKey string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key required")
	}
	return &Anthropic{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

// Chat sends one exchange. JSON mode is emulated with an assistant prefill
// of "[" (the JSON-constrained tasks all produce arrays); the prefill is
// re-prepended to the completion before returning.
func (p *Anthropic) Chat(ctx context.Context, model, systemPrompt, userContent string, opts ChatOptions) (string, types.TokenUsage, error) {
	params := p.buildParams(model, systemPrompt, userContent, opts)

	message, err := p.callWithRetry(ctx, params)
	if err != nil {
		return "", types.TokenUsage{}, err
	}
	if len(message.Content) == 0 {
		return "", types.TokenUsage{}, errors.New("anthropic: empty response")
	}
	text := message.Content[0].Text
	if opts.JSONMode {
		text = "[" + text
	}
	return text, anthropicUsage(message.Usage), nil
}

func (p *Anthropic) buildParams(model, systemPrompt, userContent string, opts ChatOptions) anthropic.MessageNewParams {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(userContent)),
	}
	if opts.JSONMode {
		messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock("[")))
	}
	systemBlock := anthropic.TextBlockParam{Text: systemPrompt}
	if opts.CacheSystemPrompt {
		systemBlock.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		System:    []anthropic.TextBlockParam{systemBlock},
		Messages:  messages,
	}
}

func (p *Anthropic) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		message, err := p.client.Messages.New(ctx, params)
		if err == nil {
			return message, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !anthropicRetryable(err) {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
	}
	return nil, fmt.Errorf("anthropic: failed after %d retries: %w", p.maxRetries+1, lastErr)
}

func anthropicRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func anthropicUsage(u anthropic.Usage) types.TokenUsage {
	return types.TokenUsage{
		PromptTokens:     int(u.InputTokens),
		CompletionTokens: int(u.OutputTokens),
		TotalTokens:      int(u.InputTokens + u.OutputTokens),
		CallCount:        1,
		CacheReadTokens:  int(u.CacheReadInputTokens),
		CacheWriteTokens: int(u.CacheCreationInputTokens),
	}
}

// ListModels enumerates the account's models.
func (p *Anthropic) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("anthropic: list models: %w", err)
	}
	var models []ModelInfo
	for _, m := range page.Data {
		models = append(models, ModelInfo{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Provider:    p.Name(),
		})
	}
	return models, nil
}

// ── Batch API ──

// SubmitBatch submits a Message Batches job and returns its ID.
func (p *Anthropic) SubmitBatch(ctx context.Context, requests []BatchRequest) (string, error) {
	if len(requests) == 0 {
		return "", errors.New("anthropic: empty batch")
	}
	apiRequests := make([]anthropic.MessageBatchNewParamsRequest, 0, len(requests))
	for _, req := range requests {
		params := p.buildParams(req.Model, req.SystemPrompt, req.UserContent, req.ChatOptions)
		apiRequests = append(apiRequests, anthropic.MessageBatchNewParamsRequest{
			CustomID: req.CustomID,
			Params: anthropic.MessageBatchNewParamsRequestParams{
				Model:     params.Model,
				MaxTokens: params.MaxTokens,
				System:    params.System,
				Messages:  params.Messages,
			},
		})
	}
	batch, err := p.client.Messages.Batches.New(ctx, anthropic.MessageBatchNewParams{Requests: apiRequests})
	if err != nil {
		return "", fmt.Errorf("anthropic: submit batch: %w", err)
	}
	slog.Info("submitted anthropic batch", "batch_id", batch.ID, "requests", len(requests))
	return batch.ID, nil
}

// GetBatchStatus maps the vendor processing status to the normalized one.
func (p *Anthropic) GetBatchStatus(ctx context.Context, batchID string) (BatchStatus, error) {
	batch, err := p.client.Messages.Batches.Get(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("anthropic: batch status: %w", err)
	}
	switch batch.ProcessingStatus {
	case "ended":
		return BatchCompleted, nil
	case "canceling":
		return BatchFailed, nil
	default:
		return BatchProcessing, nil
	}
}

// GetBatchResults streams the per-request results of an ended batch.
func (p *Anthropic) GetBatchResults(ctx context.Context, batchID string) ([]BatchResult, error) {
	stream := p.client.Messages.Batches.ResultsStreaming(ctx, batchID)
	var results []BatchResult
	for stream.Next() {
		entry := stream.Current()
		if entry.Result.Type != "succeeded" {
			results = append(results, BatchResult{
				CustomID: entry.CustomID,
				Err:      fmt.Sprintf("batch request %s", entry.Result.Type),
			})
			continue
		}
		msg := entry.Result.Message
		var text string
		if len(msg.Content) > 0 {
			text = msg.Content[0].Text
		}
		results = append(results, BatchResult{
			CustomID: entry.CustomID,
			Content:  text,
			Usage:    anthropicUsage(msg.Usage),
		})
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: batch results: %w", err)
	}
	slog.Info("retrieved anthropic batch results", "batch_id", batchID, "results", len(results))
	return results, nil
}
