// Package llm is the client for the OpenRouter-compatible vision model.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/observability"
)

const (
	openRouterURL  = "https://openrouter.ai/api/v1/chat/completions"
	defaultModel   = "qwen/qwen2.5-vl-72b-instruct:free"
	defaultTimeout = 90 * time.Second
	maxBodyBytes   = 4 << 20
)

// Client handles communication with the OpenRouter API
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	referer    string
	title      string
	timeout    time.Duration
	retry      RetryConfig
	limiter    *RateLimiter
	httpClient *http.Client
	logger     *observability.Logger
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant message of a choice.
type ChoiceMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the chat completions URL.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.endpoint = url
		}
	}
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(rc RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// WithRateLimit sets the provider request rate.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = NewRateLimiter(requestsPerSecond, burst) }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAttribution sets the HTTP-Referer and X-Title headers.
func WithAttribution(referer, title string) Option {
	return func(c *Client) {
		c.referer = referer
		c.title = title
	}
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a new LLM client
func NewClient(apiKey, model string, opts ...Option) *Client {
	if model == "" {
		model = defaultModel
	}

	c := &Client{
		apiKey:     apiKey,
		model:      model,
		endpoint:   openRouterURL,
		referer:    "https://github.com/spherical/drawing-extractor",
		title:      "Engineering Drawing Extractor",
		timeout:    defaultTimeout,
		retry:      DefaultRetryConfig(),
		limiter:    NewRateLimiter(0, 1),
		httpClient: &http.Client{},
		logger:     observability.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.WithOperation("llm")
	return c
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string { return c.model }

// Complete sends one instruction and one JPEG image and returns the model's
// transcript. Failures are returned as *ProviderError (possibly wrapped).
func (c *Client) Complete(ctx context.Context, prompt string, image []byte) (string, error) {
	body, err := json.Marshal(c.buildRequest(prompt, image))
	if err != nil {
		return "", domain.APIError("Failed to marshal request", err)
	}

	start := time.Now()
	content, err := c.retryWithBackoff(ctx, func(ctx context.Context) (string, error) {
		return c.send(ctx, body)
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug().Dur("elapsed", time.Since(start)).Int("chars", len(content)).Msg("Completion received")
	return content, nil
}

// send performs a single attempt bounded by the per-attempt timeout.
func (c *Client) send(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", domain.APIError("Failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, respBody)
	}

	return parseResponse(respBody)
}

// buildRequest constructs the API request with the image
func (c *Client) buildRequest(prompt string, image []byte) *Request {
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	msg := Message{
		Role: "user",
		Content: []ContentPart{
			{
				Type: "text",
				Text: prompt,
			},
			{
				Type: "image_url",
				ImageURL: &ImageURL{
					URL: imageURL,
				},
			},
		},
	}

	return &Request{
		Model:    c.model,
		Messages: []Message{msg},
	}
}

// parseResponse extracts choices[0].message.content. A 200 without choices
// (OpenRouter reports some errors this way) is a provider error.
func parseResponse(body []byte) (string, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &ProviderError{Kind: KindMalformed, StatusCode: http.StatusOK, Body: string(body), Err: err}
	}
	if len(resp.Choices) == 0 {
		pe := classifyStatus(http.StatusOK, body)
		if pe.Kind == KindBadRequest {
			pe.Kind = KindMalformed
		}
		return "", pe
	}
	content := resp.Choices[0].Message.Content
	if content == nil {
		return "", &ProviderError{Kind: KindMalformed, StatusCode: http.StatusOK, Body: string(body)}
	}
	return *content, nil
}
