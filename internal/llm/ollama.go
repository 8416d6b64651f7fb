package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// GenerateRequest is one non-streaming completion request
type GenerateRequest struct {
	Model       string
	Prompt      string
	JSON        bool
	Temperature float64
}

// Generator produces text from a prompt
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Config holds Ollama client settings
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client wraps the Ollama API client with a per-call timeout
type Client struct {
	api     *api.Client
	timeout time.Duration
}

// NewClient creates an Ollama client with defaults filled in
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ollama base url %q", cfg.BaseURL)
	}

	return &Client{
		api:     api.NewClient(base, cfg.HTTPClient),
		timeout: cfg.Timeout,
	}, nil
}

// StatusError is returned for error statuses the server did not explain
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama status %d: %s", e.StatusCode, e.Message)
}

// Generate runs one prompt and returns the model response text
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", errors.New("model is required")
	}

	stream := false
	request := &api.GenerateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Stream:  &stream,
		Options: map[string]interface{}{"temperature": req.Temperature},
	}
	if req.JSON {
		request.Format = "json"
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		out      strings.Builder
		received bool
	)
	err := c.api.Generate(timeoutCtx, request, func(resp api.GenerateResponse) error {
		received = true
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", c.wrap(timeoutCtx, "generate", err)
	}
	if !received {
		return "", errors.New("ollama returned no response")
	}
	return out.String(), nil
}

// Embed returns the embedding vector of text under model
func (c *Client) Embed(ctx context.Context, model, text string) ([]float64, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("model is required")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Embeddings(timeoutCtx, &api.EmbeddingRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, c.wrap(timeoutCtx, "embeddings", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("ollama returned an empty embedding")
	}
	return resp.Embedding, nil
}

func (c *Client) wrap(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("ollama timeout: %w", err)
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		message := statusErr.ErrorMessage
		if message == "" {
			message = statusErr.Status
		}
		return &StatusError{StatusCode: statusErr.StatusCode, Message: message}
	}
	return fmt.Errorf("ollama %s: %w", op, err)
}
