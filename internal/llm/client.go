package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultTemperature = 0.7
	maxErrorBody       = 512
	maxResponseBody    = 1 << 20
)

// Options configures the gateway client
type Options struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the text of the first choice plus token usage
type Completion struct {
	Text       string
	TokensUsed int
}

// Client calls an OpenAI-compatible chat completions endpoint
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
	retry       RetryPolicy
	logger      *slog.Logger
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient builds a client; BaseURL and Model are required
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("llm base url is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, errors.New("llm model is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(opts.APIKey),
		model:       model,
		temperature: temperature,
		httpClient:  httpClient,
		retry:       RetryPolicy{MaxAttempts: opts.MaxAttempts, InitialInterval: opts.InitialBackoff},
		logger:      logger.With(slog.String("component", "llm")),
	}, nil
}

// Model returns the configured model identifier
func (c *Client) Model() string {
	return c.model
}

// CompleteJSON asks for a JSON object response, retrying retryable failures
func (c *Client) CompleteJSON(ctx context.Context, messages []Message) (*Completion, error) {
	return WithRetry(ctx, c.retry, c.logger, func() (*Completion, error) {
		return c.completeOnce(ctx, messages)
	})
}

func (c *Client) completeOnce(ctx context.Context, messages []Message) (*Completion, error) {
	payload := chatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    c.temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := string(raw)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &Error{Kind: KindForStatus(resp.StatusCode), StatusCode: resp.StatusCode, Body: body}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Kind: KindUnknown, Err: fmt.Errorf("failed to decode chat response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return nil, &Error{Kind: KindUnknown, Err: errors.New("no choices in chat response")}
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return nil, &Error{Kind: KindUnknown, Err: errors.New("empty chat response")}
	}

	return &Completion{Text: text, TokensUsed: out.Usage.TotalTokens}, nil
}
