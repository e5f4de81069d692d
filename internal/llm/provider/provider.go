// Package provider contains the LLM provider adapters. Each adapter wraps
// one vendor API behind the Provider interface so the router can treat
// Anthropic, OpenAI, Gemini and OpenAI-compatible local servers uniformly.
package provider

import (
	"context"

	"github.com/workrecap/workrecap/internal/types"
)

// ChatOptions tunes a single chat call.
type ChatOptions struct {
	// JSONMode constrains the output to valid JSON where the vendor
	// supports it.
	JSONMode bool
	// MaxTokens caps the completion. Zero means the provider default.
	MaxTokens int
	// CacheSystemPrompt opts the system prompt into vendor prompt caching.
	// Providers with automatic caching ignore it.
	CacheSystemPrompt bool
}

// ModelInfo describes one model a provider can serve.
type ModelInfo struct {
	ID          string
	DisplayName string
	Provider    string
}

// Provider is a chat-completion backend.
type Provider interface {
	// Name is the short provider identifier ("anthropic", "openai", ...).
	Name() string
	// Chat sends one system+user exchange and returns the completion text
	// with its token accounting.
	Chat(ctx context.Context, model, systemPrompt, userContent string, opts ChatOptions) (string, types.TokenUsage, error)
	// ListModels enumerates the models the account can use.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// BatchRequest is one request inside a batch submission.
type BatchRequest struct {
	CustomID     string
	Model        string
	SystemPrompt string
	UserContent  string
	ChatOptions
}

// BatchResult is the per-request outcome of a finished batch.
type BatchResult struct {
	CustomID string
	Content  string
	Usage    types.TokenUsage
	// Err is the vendor-side failure for this request, "" on success.
	Err string
}

// BatchStatus is the normalized lifecycle state of a vendor batch job.
type BatchStatus string

const (
	BatchSubmitted  BatchStatus = "submitted"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchExpired    BatchStatus = "expired"
)

// IsTerminal reports whether the batch will make no further progress.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchExpired
}

// BatchCapable is implemented by providers that offer an async batch API.
// Callers type-assert at runtime, mirroring how batch support is optional
// per vendor.
type BatchCapable interface {
	SubmitBatch(ctx context.Context, requests []BatchRequest) (string, error)
	GetBatchStatus(ctx context.Context, batchID string) (BatchStatus, error)
	GetBatchResults(ctx context.Context, batchID string) ([]BatchResult, error)
}
