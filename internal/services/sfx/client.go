// Package sfx wraps the sound-effect detection service.
package sfx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"fabula/internal/config"
	"fabula/internal/services"
)

// EffectSpec describes one detected sound effect slot in scene text.
type EffectSpec struct {
	Key         string  `json:"key"`
	Description string  `json:"description"`
	Offset      float64 `json:"offset,omitempty"`
}

// Client talks to the sound-effect detection service.
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

// New constructs a sound-effect detection client from service configuration.
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

// Detect runs effect detection over scene text. The context string carries
// surrounding narrative so the detector can disambiguate (a "crack" in a
// storm scene is thunder, not a breaking branch).
func (c *Client) Detect(ctx context.Context, text, narrativeContext string) ([]EffectSpec, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("sfx detect: text required")
	}
	if strings.TrimSpace(c.baseURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "sfx", "detect", "sound effect base url not configured", nil)
	}

	request := map[string]string{"text": text, "context": narrativeContext}
	encoded, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("sfx detect: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("sfx detect: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.ClassifyTransportError("sfx", "detect", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("sfx detect: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.ClassifyHTTPStatus("sfx", "detect", resp.StatusCode, payload)
	}

	var out struct {
		Effects []EffectSpec `json:"effects"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "sfx", "detect", "decode response", err)
	}
	return out.Effects, nil
}

// IsCached reports whether a rendered effect already exists in the effect
// cache, so readiness checks can distinguish "known and ready" from "needs
// rendering".
func (c *Client) IsCached(ctx context.Context, effectKey string) (bool, error) {
	effectKey = strings.TrimSpace(effectKey)
	if effectKey == "" {
		return false, errors.New("sfx cache: effect key required")
	}
	if strings.TrimSpace(c.baseURL) == "" {
		return false, services.Wrap(services.ErrConfiguration, "sfx", "cache", "sound effect base url not configured", nil)
	}

	endpoint := c.baseURL + "/cache/" + url.PathEscape(effectKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("sfx cache: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, services.ClassifyTransportError("sfx", "cache", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, services.ClassifyHTTPStatus("sfx", "cache", resp.StatusCode, nil)
	}
}
