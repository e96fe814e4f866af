// Package coverart wraps the image generation service used for story cover
// art.
package coverart

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

// Client talks to the cover-art generation service.
type Client struct {
	baseURL    string
	apiKey     string
	style      string
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

// New constructs a cover-art client from service configuration.
func New(cfg config.Service, opts ...Option) *Client {
	client := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		style:      cfg.Style,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Style returns the configured rendering style.
func (c *Client) Style() string { return c.style }

// Generate renders cover art for the given prompt and returns the asset URL.
// Generation is idempotent per (prompt, style) on the service side, so a
// retried stage reuses the previously rendered asset instead of billing a
// second render.
func (c *Client) Generate(ctx context.Context, prompt, style string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("coverart generate: prompt required")
	}
	if strings.TrimSpace(c.baseURL) == "" {
		return "", services.Wrap(services.ErrConfiguration, "cover", "generate", "cover art base url not configured", nil)
	}
	if strings.TrimSpace(style) == "" {
		style = c.style
	}

	request := map[string]string{"prompt": prompt, "style": style}
	encoded, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("coverart generate: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("coverart generate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.ClassifyTransportError("cover", "generate", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("coverart generate: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", services.ClassifyHTTPStatus("cover", "generate", resp.StatusCode, payload)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", services.Wrap(services.ErrExternalService, "cover", "generate", "decode response", err)
	}
	out.URL = strings.TrimSpace(out.URL)
	if out.URL == "" {
		return "", services.Wrap(services.ErrExternalService, "cover", "generate", "empty asset url", nil)
	}
	return out.URL, nil
}
