package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/workrecap/workrecap/internal/llm/provider"
	"github.com/workrecap/workrecap/internal/state"
	"github.com/workrecap/workrecap/internal/types"
)

// ChatOptions tunes one routed chat call.
type ChatOptions struct {
	JSONMode bool
	// MaxTokens overrides the task config when positive.
	MaxTokens         int
	CacheSystemPrompt bool
}

// Batch polling: the interval starts short and grows linearly to a ceiling.
const (
	batchPollInitial = 5 * time.Second
	batchPollStep    = 5 * time.Second
	batchPollMax     = 60 * time.Second
)

// BatchTimeout scales the polling deadline with the batch size, capped at
// four hours.
func BatchTimeout(size int) time.Duration {
	secs := 300 + 30*size
	if secs > 14400 {
		secs = 14400
	}
	return time.Duration(secs) * time.Second
}

// Router sends each task's calls to its configured provider and model.
//
// Strategy modes:
//   - economy, fixed: base model only, no escalation
//   - premium: escalation model directly when configured
//   - standard, adaptive: base model with adaptive escalation when an
//     escalation model is configured
type Router struct {
	config  *Config
	tracker *UsageTracker
	batches *state.BatchJobStore // optional

	providerMu sync.Mutex
	providers  map[string]provider.Provider

	usageMu sync.Mutex
	usage   types.TokenUsage
}

// NewRouter creates a router. tracker and batches may be nil.
func NewRouter(config *Config, tracker *UsageTracker, batches *state.BatchJobStore) *Router {
	return &Router{
		config:    config,
		tracker:   tracker,
		batches:   batches,
		providers: map[string]provider.Provider{},
	}
}

// Usage returns the aggregate token usage across all calls.
func (r *Router) Usage() types.TokenUsage {
	r.usageMu.Lock()
	defer r.usageMu.Unlock()
	return r.usage
}

// Tracker returns the per-model usage tracker, if configured.
func (r *Router) Tracker() *UsageTracker { return r.tracker }

// Chat routes one call by task name.
func (r *Router) Chat(ctx context.Context, task, systemPrompt, userContent string, opts ChatOptions) (string, error) {
	taskConfig, err := r.config.TaskConfigFor(task)
	if err != nil {
		return "", &SummarizeError{Task: task, Err: err}
	}
	strategy := r.config.StrategyMode()
	providerName, model, useEscalation := resolveModel(taskConfig, strategy)

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = taskConfig.MaxTokens
	}

	slog.Info("llm call", "task", task, "provider", providerName, "model", model, "strategy", strategy)
	slog.Debug("llm request", "system_chars", len(systemPrompt), "user_chars", len(userContent))

	p, err := r.provider(providerName)
	if err != nil {
		return "", &SummarizeError{Task: task, Err: err}
	}

	chatOpts := provider.ChatOptions{
		JSONMode:          opts.JSONMode,
		MaxTokens:         maxTokens,
		CacheSystemPrompt: opts.CacheSystemPrompt,
	}

	var text string
	var usage types.TokenUsage
	if useEscalation && taskConfig.EscalationModel != "" {
		handler := &escalationHandler{
			baseProvider:       p,
			baseModel:          taskConfig.Model,
			escalationProvider: p,
			escalationModel:    taskConfig.EscalationModel,
		}
		text, usage, err = handler.chat(ctx, systemPrompt, userContent, chatOpts)
	} else {
		t0 := time.Now()
		text, usage, err = p.Chat(ctx, model, systemPrompt, userContent, chatOpts)
		if err == nil {
			slog.Info("llm tokens",
				"prompt", usage.PromptTokens,
				"completion", usage.CompletionTokens,
				"total", usage.TotalTokens,
				"elapsed", time.Since(t0).Round(100*time.Millisecond))
		}
	}
	if err != nil {
		return "", &SummarizeError{Task: task, Err: err}
	}

	r.usageMu.Lock()
	r.usage = r.usage.Add(usage)
	r.usageMu.Unlock()
	if r.tracker != nil {
		r.tracker.Record(providerName, model, usage)
	}
	slog.Debug("llm response", "chars", len(text))
	return text, nil
}

// resolveModel picks (provider, model, escalation) for a strategy.
func resolveModel(tc TaskConfig, strategy string) (string, string, bool) {
	switch strategy {
	case "economy", "fixed":
		return tc.Provider, tc.Model, false
	case "premium":
		if tc.EscalationModel != "" {
			return tc.Provider, tc.EscalationModel, false
		}
		return tc.Provider, tc.Model, false
	case "standard", "adaptive":
		return tc.Provider, tc.Model, tc.EscalationModel != ""
	default:
		return tc.Provider, tc.Model, false
	}
}

// ListModels enumerates models across every configured provider. Providers
// that fail to answer are skipped with a warning.
func (r *Router) ListModels(ctx context.Context) []provider.ModelInfo {
	var all []provider.ModelInfo
	for name := range r.config.Providers {
		p, err := r.provider(name)
		if err != nil {
			slog.Warn("skipping provider for model listing", "provider", name, "err", err)
			continue
		}
		models, err := p.ListModels(ctx)
		if err != nil {
			slog.Warn("model listing failed", "provider", name, "err", err)
			continue
		}
		all = append(all, models...)
	}
	return all
}

// ── Batch API ──

// BatchChatRequest is one request of a routed batch.
type BatchChatRequest struct {
	CustomID     string
	SystemPrompt string
	UserContent  string
	ChatOptions
}

// SubmitBatch submits requests under the task's base model. Batches never
// escalate; a premium pass over batch output costs more than rerunning the
// few weak items synchronously.
func (r *Router) SubmitBatch(ctx context.Context, task string, requests []BatchChatRequest) (string, error) {
	taskConfig, bp, err := r.batchProvider(task)
	if err != nil {
		return "", err
	}
	batchRequests := make([]provider.BatchRequest, 0, len(requests))
	customIDs := make([]string, 0, len(requests))
	for _, req := range requests {
		maxTokens := req.MaxTokens
		if maxTokens <= 0 {
			maxTokens = taskConfig.MaxTokens
		}
		batchRequests = append(batchRequests, provider.BatchRequest{
			CustomID:     req.CustomID,
			Model:        taskConfig.Model,
			SystemPrompt: req.SystemPrompt,
			UserContent:  req.UserContent,
			ChatOptions: provider.ChatOptions{
				JSONMode:          req.JSONMode,
				MaxTokens:         maxTokens,
				CacheSystemPrompt: req.CacheSystemPrompt,
			},
		})
		customIDs = append(customIDs, req.CustomID)
	}

	slog.Info("submitting batch", "task", task, "provider", taskConfig.Provider, "requests", len(batchRequests))
	batchID, err := bp.SubmitBatch(ctx, batchRequests)
	if err != nil {
		return "", &SummarizeError{Task: task, Err: err}
	}
	if r.batches != nil {
		if recErr := r.batches.Record(state.BatchJob{
			JobID:     batchID,
			Provider:  taskConfig.Provider,
			Model:     taskConfig.Model,
			Task:      task,
			Status:    state.BatchStatusSubmitted,
			CustomIDs: customIDs,
		}); recErr != nil {
			slog.Warn("failed to record batch job", "batch_id", batchID, "err", recErr)
		}
	}
	return batchID, nil
}

// GetBatchStatus reports the normalized status of a batch, updating the
// local ledger.
func (r *Router) GetBatchStatus(ctx context.Context, task, batchID string) (provider.BatchStatus, error) {
	_, bp, err := r.batchProvider(task)
	if err != nil {
		return "", err
	}
	status, err := bp.GetBatchStatus(ctx, batchID)
	if err != nil {
		return "", &SummarizeError{Task: task, Err: err}
	}
	if r.batches != nil {
		if updErr := r.batches.UpdateStatus(batchID, string(status)); updErr != nil {
			slog.Warn("failed to update batch status", "batch_id", batchID, "err", updErr)
		}
	}
	return status, nil
}

// GetBatchResults fetches results of a completed batch and records their
// usage under the task's model.
func (r *Router) GetBatchResults(ctx context.Context, task, batchID string) ([]provider.BatchResult, error) {
	taskConfig, bp, err := r.batchProvider(task)
	if err != nil {
		return nil, err
	}
	results, err := bp.GetBatchResults(ctx, batchID)
	if err != nil {
		return nil, &SummarizeError{Task: task, Err: err}
	}
	for _, res := range results {
		if res.Err != "" {
			continue
		}
		r.usageMu.Lock()
		r.usage = r.usage.Add(res.Usage)
		r.usageMu.Unlock()
		if r.tracker != nil {
			r.tracker.Record(taskConfig.Provider, taskConfig.Model, res.Usage)
		}
	}
	return results, nil
}

// WaitForBatch polls until the batch reaches a terminal state and returns
// its results. The poll interval grows linearly from 5s to 60s; the timeout
// should come from BatchTimeout.
func (r *Router) WaitForBatch(ctx context.Context, task, batchID string, timeout time.Duration) ([]provider.BatchResult, error) {
	deadline := time.Now().Add(timeout)
	interval := batchPollInitial
	for {
		status, err := r.GetBatchStatus(ctx, task, batchID)
		if err != nil {
			return nil, err
		}
		switch status {
		case provider.BatchCompleted:
			return r.GetBatchResults(ctx, task, batchID)
		case provider.BatchFailed, provider.BatchExpired:
			return nil, &SummarizeError{Task: task,
				Err: fmt.Errorf("batch %s ended with status %s", batchID, status)}
		}
		if time.Now().After(deadline) {
			return nil, &SummarizeError{Task: task,
				Err: fmt.Errorf("batch %s timed out after %s (status %s)", batchID, timeout, status)}
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if interval < batchPollMax {
			interval += batchPollStep
			if interval > batchPollMax {
				interval = batchPollMax
			}
		}
	}
}

func (r *Router) batchProvider(task string) (TaskConfig, provider.BatchCapable, error) {
	taskConfig, err := r.config.TaskConfigFor(task)
	if err != nil {
		return TaskConfig{}, nil, &SummarizeError{Task: task, Err: err}
	}
	p, err := r.provider(taskConfig.Provider)
	if err != nil {
		return TaskConfig{}, nil, &SummarizeError{Task: task, Err: err}
	}
	bp, ok := p.(provider.BatchCapable)
	if !ok {
		return TaskConfig{}, nil, &SummarizeError{Task: task,
			Err: fmt.Errorf("provider %q does not support batch processing", taskConfig.Provider)}
	}
	return taskConfig, bp, nil
}

// provider returns the cached adapter for name, creating it on first use.
func (r *Router) provider(name string) (provider.Provider, error) {
	r.providerMu.Lock()
	defer r.providerMu.Unlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	entry, err := r.config.ProviderEntryFor(name)
	if err != nil {
		return nil, err
	}
	p, err := createProvider(name, entry)
	if err != nil {
		return nil, err
	}
	r.providers[name] = p
	return p, nil
}

func createProvider(name string, entry ProviderEntry) (provider.Provider, error) {
	switch name {
	case "anthropic":
		return provider.NewAnthropic(entry.APIKey)
	case "openai":
		return provider.NewOpenAI(entry.APIKey)
	case "gemini":
		return provider.NewGemini(entry.APIKey)
	case "custom":
		return provider.NewCustom(entry.APIKey, entry.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// RegisterProvider overrides the adapter for a provider name. Tests use it
// to install fakes.
func (r *Router) RegisterProvider(name string, p provider.Provider) {
	r.providerMu.Lock()
	defer r.providerMu.Unlock()
	r.providers[name] = p
}
