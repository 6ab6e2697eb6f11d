package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dotcommander/storyweaver/internal/core"
)

const jsonOnlyInstruction = "IMPORTANT: You MUST respond with valid JSON only. Your entire response must be a single JSON object with no additional text, markdown, or explanations."

// Client is an HTTP TextGenerator for Anthropic- or OpenAI-compatible APIs.
// It rate-limits and retries transient failures.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
	apiType    string // "anthropic" or "openai"
	logger     *slog.Logger
}

type Option func(*Client)

func WithRetry(maxRetries int) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

// WithBackoff sets the base delay between retries; attempt n waits n*base.
func WithBackoff(base time.Duration) Option {
	return func(c *Client) {
		c.backoff = base
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		// Preserve existing transport if any
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithRateLimit(requestsPerMinute int, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

func WithAPIConfig(baseURL, model string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
		if model != "" {
			c.model = model
		}
		// Detect API type based on base URL
		if strings.Contains(c.baseURL, "openai") {
			c.apiType = "openai"
		} else {
			c.apiType = "anthropic"
		}
	}
}

// WithProvider forces the wire format regardless of base URL.
func WithProvider(provider string) Option {
	return func(c *Client) {
		switch provider {
		case "openai", "anthropic":
			c.apiType = provider
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With("component", "text_generator")
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	// Configure transport with connection pooling
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
		model:   "claude-3-5-sonnet-20241022",
		httpClient: &http.Client{
			Timeout:   120 * time.Second,
			Transport: transport,
		},
		maxRetries: 3,
		backoff:    time.Second,
		limiter:    rate.NewLimiter(rate.Limit(1), 1), // Default: 60 req/min
		apiType:    "anthropic",
		logger:     slog.Default().With("component", "text_generator"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("text generator initialized",
		"api_type", c.apiType,
		"base_url", c.baseURL,
		"model", c.model,
		"max_retries", c.maxRetries,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))

	return c
}

// Generate sends one system/user instruction pair to the provider.
func (c *Client) Generate(ctx context.Context, systemInstruction, userInstruction string, opts GenerateOptions) (string, error) {
	requestID := "gen_" + uuid.NewString()[:8]
	startTime := time.Now()

	if c.apiKey == "" {
		return "", core.NewGenerationError("generate", "no API key", core.ErrNoAPIKey)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Error("rate limit wait failed",
			"request_id", requestID,
			"error", err)
		return "", classifyContextError(ctx, err)
	}

	c.logger.Debug("rate limit passed",
		"request_id", requestID,
		"wait_duration_ms", time.Since(startTime).Milliseconds())

	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * c.backoff
			c.logger.Debug("retry backoff",
				"request_id", requestID,
				"attempt", attempt,
				"backoff_ms", backoff.Milliseconds())

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.logger.Warn("request cancelled during backoff",
					"request_id", requestID,
					"attempt", attempt)
				return "", classifyContextError(ctx, ctx.Err())
			}
		}

		attemptStart := time.Now()
		c.logger.Debug("attempting generation request",
			"request_id", requestID,
			"attempt", attempt,
			"system_length", len(systemInstruction),
			"user_length", len(userInstruction),
			"temperature", opts.Temperature,
			"max_tokens", opts.MaxTokens,
			"json", opts.JSON,
			"api_type", c.apiType,
			"model", c.model)

		response, err := c.doRequest(ctx, systemInstruction, userInstruction, opts)
		if err == nil {
			c.logger.Info("generation request successful",
				"request_id", requestID,
				"attempt", attempt,
				"duration_ms", time.Since(attemptStart).Milliseconds(),
				"response_length", len(response),
				"total_duration_ms", time.Since(startTime).Milliseconds())
			return response, nil
		}

		lastErr = err

		if !core.IsRetryable(err) || ctx.Err() != nil {
			c.logger.Error("generation request failed with non-retryable error",
				"request_id", requestID,
				"attempt", attempt,
				"error", err)
			return "", err
		}

		c.logger.Warn("generation request failed, will retry",
			"request_id", requestID,
			"attempt", attempt,
			"error", err)
	}

	c.logger.Error("generation request failed after max retries",
		"request_id", requestID,
		"max_retries", c.maxRetries,
		"total_duration_ms", time.Since(startTime).Milliseconds(),
		"last_error", lastErr)

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, systemInstruction, userInstruction string, opts GenerateOptions) (string, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.JSON {
		systemInstruction = strings.TrimSpace(systemInstruction + "\n\n" + jsonOnlyInstruction)
	}
	if c.apiType == "openai" {
		return c.doOpenAIRequest(ctx, systemInstruction, userInstruction, opts)
	}
	return c.doAnthropicRequest(ctx, systemInstruction, userInstruction, opts)
}

func (c *Client) doOpenAIRequest(ctx context.Context, systemInstruction, userInstruction string, opts GenerateOptions) (string, error) {
	requestBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemInstruction},
			{"role": "user", "content": userInstruction},
		},
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
	}
	if opts.JSON {
		requestBody["response_format"] = map[string]string{"type": "json_object"}
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}

	respBody, err := c.post(ctx, "/chat/completions", requestBody, headers)
	if err != nil {
		return "", err
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", core.NewGenerationError("openai", "parsing response", err)
	}
	if len(response.Choices) == 0 {
		return "", core.NewGenerationError("openai", "no choices in response", nil)
	}

	c.logger.Debug("OpenAI request completed",
		"prompt_tokens", response.Usage.PromptTokens,
		"completion_tokens", response.Usage.CompletionTokens)

	return response.Choices[0].Message.Content, nil
}

func (c *Client) doAnthropicRequest(ctx context.Context, systemInstruction, userInstruction string, opts GenerateOptions) (string, error) {
	requestBody := map[string]any{
		"model":  c.model,
		"system": systemInstruction,
		"messages": []map[string]string{
			{"role": "user", "content": userInstruction},
		},
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}

	respBody, err := c.post(ctx, "/messages", requestBody, headers)
	if err != nil {
		return "", err
	}

	var response struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", core.NewGenerationError("anthropic", "parsing response", err)
	}
	if len(response.Content) == 0 {
		return "", core.NewGenerationError("anthropic", "no content in response", nil)
	}

	c.logger.Debug("Anthropic request completed",
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens)

	return response.Content[0].Text, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, headers map[string]string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpStart := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed",
			"endpoint", endpoint,
			"duration_ms", time.Since(httpStart).Milliseconds(),
			"error", err)
		return nil, classifyTransportError(ctx, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewGenerationError(endpoint, "reading response", fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err))
	}

	c.logger.Debug("HTTP response received",
		"endpoint", endpoint,
		"status_code", resp.StatusCode,
		"body_size", len(respBody),
		"duration_ms", time.Since(httpStart).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(endpoint, resp.StatusCode, respBody)
	}

	return respBody, nil
}

func classifyStatus(endpoint string, status int, body []byte) error {
	details := fmt.Sprintf("API error (status %d): %s", status, truncate(string(body), 300))
	switch {
	case status == http.StatusTooManyRequests:
		return core.NewGenerationError(endpoint, details, core.ErrRateLimited)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &core.GenerationTimeoutError{Step: endpoint, Cause: errors.New(details)}
	case status >= 500:
		return core.NewGenerationError(endpoint, details, core.ErrProviderUnavailable)
	default:
		return core.NewGenerationError(endpoint, details, nil)
	}
}

func classifyTransportError(ctx context.Context, endpoint string, err error) error {
	if ctx.Err() != nil {
		return classifyContextError(ctx, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &core.GenerationTimeoutError{Step: endpoint, Cause: err}
	}
	return core.NewGenerationError(endpoint, "making request", fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err))
}

func classifyContextError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &core.GenerationTimeoutError{Step: "generate", Cause: err}
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
