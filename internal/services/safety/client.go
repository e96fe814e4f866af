// Package safety wraps the language-model validation service that scores
// scene text against a content policy and adjusts flagged passages.
package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"fabula/internal/config"
	"fabula/internal/services"
)

// ScoreReport is the analysis result for one piece of scene text.
type ScoreReport struct {
	Scores  map[string]float64 `json:"scores"`
	Flagged []string           `json:"flagged"`
	Passed  bool               `json:"passed"`
}

// Client talks to the safety/quality analysis service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base (useful for tests).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimSpace(base)
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// New constructs a safety client from service configuration.
func New(cfg config.Service, opts ...Option) *Client {
	client := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Analyze scores text against the named policy.
func (c *Client) Analyze(ctx context.Context, text, policy string) (ScoreReport, error) {
	var empty ScoreReport
	if strings.TrimSpace(text) == "" {
		return empty, errors.New("safety analyze: text required")
	}
	var out ScoreReport
	if err := c.post(ctx, "analyze", map[string]string{"text": text, "policy": policy}, &out); err != nil {
		return empty, err
	}
	if out.Scores == nil {
		out.Scores = map[string]float64{}
	}
	return out, nil
}

// Adjust rewrites flagged passages and returns the adjusted text.
func (c *Client) Adjust(ctx context.Context, text string, report ScoreReport) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("safety adjust: text required")
	}
	request := map[string]any{"text": text, "report": report}
	var out struct {
		Text string `json:"text"`
	}
	if err := c.post(ctx, "adjust", request, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", services.Wrap(services.ErrExternalService, "qa", "adjust", "empty adjusted text", nil)
	}
	return out.Text, nil
}

func (c *Client) post(ctx context.Context, operation string, request, response any) error {
	if strings.TrimSpace(c.baseURL) == "" {
		return services.Wrap(services.ErrConfiguration, "qa", operation, "safety base url not configured", nil)
	}

	encoded, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("safety %s: encode request: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+operation, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("safety %s: build request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.ClassifyTransportError("qa", operation, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("safety %s: read response: %w", operation, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.ClassifyHTTPStatus("qa", operation, resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, response); err != nil {
		return services.Wrap(services.ErrExternalService, "qa", operation, "decode response", err)
	}
	return nil
}
