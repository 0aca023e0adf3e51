// Package completion is the boundary to the external language-model
// service: an OpenAI-compatible chat-completions client plus the parsing
// of the mentor's structured {response, points} payload.
package completion

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

	"tutorhub/pkg/types"
)

// Config holds completion service settings.
type Config struct {
	BaseURL     string        `json:"base_url"`
	APIKey      string        `json:"-"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultConfig returns completion defaults. The timeout bounds the one
// external call a turn is allowed to make.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		MaxTokens:   500,
		Temperature: 0.7,
		Timeout:     30 * time.Second,
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("completion base URL cannot be empty")
	}
	if c.Model == "" {
		return errors.New("completion model cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return errors.New("completion max tokens must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("completion timeout must be positive")
	}
	return nil
}

// chatRequest is the minimal request shape for the chat-completions endpoint.
type chatRequest struct {
	Model       string              `json:"model"`
	Messages    []types.ChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
}

// chatResponse is the minimal response shape we read back.
type chatResponse struct {
	Choices []struct {
		Message types.ChatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("completion: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client is a stateless chat-completions client. One call per turn, no
// automatic retries; retry policy belongs to the turn controller, which
// treats a failed call as a failed turn.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a completion client from config.
func NewClient(config *Config, opts ...Option) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid completion config: %w", err)
	}

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete submits the prompt window and returns the parsed mentor
// result. Transport failures, non-2xx statuses, and empty responses are
// errors; malformed assistant payloads are not — they coerce to the
// fallback reply with zero points so a turn always yields some reply.
func (c *Client) Complete(ctx context.Context, prompt []types.ChatMessage) (types.CompletionResult, error) {
	if len(prompt) == 0 {
		return types.CompletionResult{}, ErrEmptyPrompt
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.config.Model,
		Messages:    prompt,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	})
	if err != nil {
		return types.CompletionResult{}, fmt.Errorf("completion: marshal request: %w", err)
	}

	url := chatURL(c.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.CompletionResult{}, fmt.Errorf("completion: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return types.CompletionResult{}, fmt.Errorf("completion: request failed: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return types.CompletionResult{}, fmt.Errorf("completion: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return types.CompletionResult{}, ErrNoChoices
	}

	return ParseResult(payload.Choices[0].Message.Content), nil
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
