package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

var (
	ErrSafetyRejected = errors.New("request rejected by content filter")
	ErrQuotaExhausted = errors.New("api quota exhausted")
)

const (
	aiMaxCallsPerWindow = 15
	aiWindow            = 60 * time.Second

	// rough blended price per 1K tokens, for operator reporting only
	costPer1KTokensUS = 0.01
)

type AIRepository struct {
	primary  *openai.Client
	fallback *openai.Client
	model    string
	limiter  *slidingWindowLimiter

	mu    sync.Mutex
	stats UsageStats
}

func NewAIRepository() (*AIRepository, error) {
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("AZURE_OPENAI_KEY") == "" {
		return nil, nil
	}

	var model = "gpt-4"
	if os.Getenv("OPENAI_MODEL") != "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	var primary, fallback *openai.Client
	var err error
	if os.Getenv("OPENAI_API_KEY") != "" {
		primary, err = newOpenAIClient()
	} else {
		primary, err = newAzureClient()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}

	// 両方設定されている場合はAzureを安全フォールバックに使う
	if os.Getenv("OPENAI_API_KEY") != "" && os.Getenv("AZURE_OPENAI_KEY") != "" && os.Getenv("AZURE_OPENAI_ENDPOINT") != "" {
		fallback, err = newAzureClient()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Azure client: %w", err)
		}
	}

	return &AIRepository{
		primary:  primary,
		fallback: fallback,
		model:    model,
		limiter:  newSlidingWindowLimiter(aiMaxCallsPerWindow, aiWindow),
	}, nil
}

func newOpenAIClient() (*openai.Client, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	options := []option.RequestOption{
		option.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
	}

	c := openai.NewClient(options...)
	return &c, nil
}

func newAzureClient() (*openai.Client, error) {
	key := os.Getenv("AZURE_OPENAI_KEY")
	if key == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_KEY is not set")
	}
	var azureOpenAIEndpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")

	var azureOpenAIAPIVersion = "2025-01-01-preview"

	if os.Getenv("AZURE_OPENAI_API_VERSION") != "" {
		azureOpenAIAPIVersion = os.Getenv("AZURE_OPENAI_API_VERSION")
	}

	c := openai.NewClient(
		azure.WithEndpoint(azureOpenAIEndpoint, azureOpenAIAPIVersion),
		azure.WithAPIKey(key),
	)
	return &c, nil
}

// Generate runs one completion through the rate limiter with failure
// classification. Quota errors back off 2s/4s/8s, transient errors
// 1s/2s/4s. A content-filter rejection on the primary backend gets
// exactly one attempt on the fallback backend with a sanitized prompt;
// the primary is not retried.
func (h *AIRepository) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	result, err := h.generate(ctx, h.primary, req)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrSafetyRejected) || h.fallback == nil {
		return "", err
	}

	slog.Warn("completion rejected by content filter, retrying on fallback backend")
	sanitized := req
	sanitized.Prompt = sanitizePrompt(req.Prompt)
	result, err = h.generate(ctx, h.fallback, sanitized)
	if err != nil {
		return "", fmt.Errorf("fallback generation failed: %w", err)
	}
	return result, nil
}

const aiMaxAttempts = 3

func (h *AIRepository) generate(ctx context.Context, client *openai.Client, req GenerateRequest) (string, error) {
	quotaBackoff := newFixedBackoff(2 * time.Second)
	transientBackoff := newFixedBackoff(time.Second)

	var lastErr error
	for attempt := 0; attempt < aiMaxAttempts; attempt++ {
		if err := h.limiter.Wait(ctx); err != nil {
			return "", err
		}

		result, err := h.complete(ctx, client, req)
		if err == nil {
			h.limiter.Record()
			return result, nil
		}
		lastErr = err

		var delay time.Duration
		switch classifyFailure(err) {
		case failureSafety:
			return "", ErrSafetyRejected
		case failureQuota:
			delay = quotaBackoff.NextBackOff()
			slog.Warn("completion hit quota limit, backing off",
				slog.Int("attempt", attempt+1), slog.Duration("delay", delay), slog.Any("error", err))
			lastErr = fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		default:
			delay = transientBackoff.NextBackOff()
			slog.Warn("transient completion failure",
				slog.Int("attempt", attempt+1), slog.Duration("delay", delay), slog.Any("error", err))
		}

		if attempt == aiMaxAttempts-1 {
			break
		}
		if err := sleepContext(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

// newFixedBackoff doubles from base without jitter, so the retry
// schedule is deterministic.
func newFixedBackoff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 8 * base
	b.Reset()
	return b
}

func (h *AIRepository) complete(ctx context.Context, client *openai.Client, req GenerateRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Model: h.model,
	}
	if req.SystemPrompt != "" {
		params.Messages = append([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
		}, params.Messages...)
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	if resp.Choices[0].FinishReason == "content_filter" {
		return "", ErrSafetyRejected
	}

	h.recordUsage(int(resp.Usage.TotalTokens))
	return resp.Choices[0].Message.Content, nil
}

type failureKind int

const (
	failureTransient failureKind = iota
	failureQuota
	failureSafety
)

func classifyFailure(err error) failureKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "content_filter") || strings.Contains(msg, "content filter") || strings.Contains(msg, "safety"):
		return failureSafety
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return failureQuota
	default:
		return failureTransient
	}
}

// sanitizePrompt strips raw log excerpts that tend to trip content
// filters, keeping the structured portion of the prompt.
func sanitizePrompt(prompt string) string {
	lines := strings.Split(prompt, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "stacktrace:") || strings.HasPrefix(trimmed, "raw_logs:") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func (h *AIRepository) recordUsage(tokens int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.APICalls++
	h.stats.TotalTokens += tokens
	h.stats.EstimatedCostUS += float64(tokens) / 1000 * costPer1KTokensUS
}

func (h *AIRepository) UsageStats() UsageStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
