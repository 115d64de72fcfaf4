package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jchen/finsight/internal/analysis"
	"github.com/jchen/finsight/internal/config"
	"github.com/jchen/finsight/internal/logger"
)

// InferenceService invokes an OpenAI-compatible chat completion endpoint.
// Implements analysis.Invoker: one Invoke call covers the whole retry budget,
// each attempt gets its own timeout.
type InferenceService struct {
	client      *resty.Client
	model       string
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
}

// NewInferenceService creates a new model invocation client.
// Parameters:
//   - cfg: endpoint, credentials, timeout, and retry budget.
// Returns:
//   - *InferenceService: configured client.
func NewInferenceService(cfg *config.InferenceConfig) *InferenceService {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &InferenceService{
		client:      client,
		model:       cfg.Model,
		timeout:     timeout,
		maxRetries:  cfg.MaxRetries,
		backoffBase: time.Second,
	}
}

// Chat completion request/response structures (OpenAI-compatible)
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke sends one composed prompt to the model and returns the raw text
// output. Transient failures (timeouts, 408, 429, 5xx) are retried with
// exponential backoff; other client errors fail immediately.
func (s *InferenceService) Invoke(ctx context.Context, req *analysis.InvokeRequest) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * s.backoffBase
			logger.CtxWarn(ctx, "Retrying model invocation in %s (attempt %d/%d): %v",
				backoff, attempt, s.maxRetries, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", analysis.NewTransientError("inference", ctx.Err())
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		text, retryable, err := s.invokeOnce(attemptCtx, req)
		cancel()

		if err == nil {
			return text, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", analysis.NewTransientError("inference", ctx.Err())
		}
	}

	return "", analysis.NewTransientError("inference", fmt.Errorf("retries exhausted after %d attempts: %w", s.maxRetries+1, lastErr))
}

// invokeOnce performs a single attempt. The bool result reports whether the
// failure is worth retrying.
func (s *InferenceService) invokeOnce(ctx context.Context, req *analysis.InvokeRequest) (string, bool, error) {
	body := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp).
		SetError(&resp).
		Post("/chat/completions")
	if err != nil {
		// Transport-level failure: connection refused, DNS, timeout.
		return "", true, fmt.Errorf("model endpoint unreachable: %w", err)
	}

	code := httpResp.StatusCode()
	switch {
	case code == http.StatusOK:
		// handled below
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return "", true, fmt.Errorf("model endpoint returned status %d: %s", code, apiErrorMessage(&resp))
	default:
		return "", false, fmt.Errorf("model request rejected with status %d: %s", code, apiErrorMessage(&resp))
	}

	if len(resp.Choices) == 0 {
		return "", true, fmt.Errorf("model returned no choices")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", true, fmt.Errorf("model returned empty content")
	}
	return content, false, nil
}

func apiErrorMessage(resp *chatResponse) string {
	if resp != nil && resp.Error != nil && resp.Error.Message != "" {
		return resp.Error.Message
	}
	return "no error detail"
}
