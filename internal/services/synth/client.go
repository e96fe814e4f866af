// Package synth wraps the text-to-speech synthesis service.
package synth

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

// TimingMark is one word-level timestamp in synthesized audio.
type TimingMark struct {
	Word    string  `json:"word"`
	StartMs int     `json:"start_ms"`
	EndMs   int     `json:"end_ms"`
	Offset  float64 `json:"offset,omitempty"`
}

// Clip is the result of synthesizing one piece of text with one voice.
type Clip struct {
	Audio      []byte       `json:"audio"`
	Format     string       `json:"format"`
	DurationMs int          `json:"duration_ms"`
	Timing     []TimingMark `json:"timing"`
}

// Client talks to the speech synthesis service.
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

// New constructs a synthesis client from service configuration.
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

// Synthesize renders text with the given voice and returns audio plus word
// timing metadata. Requests are idempotent per (text, voice) on the service
// side.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) (Clip, error) {
	var empty Clip
	if strings.TrimSpace(text) == "" {
		return empty, errors.New("synth: text required")
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return empty, errors.New("synth: voice id required")
	}
	if strings.TrimSpace(c.baseURL) == "" {
		return empty, services.Wrap(services.ErrConfiguration, "audio", "synthesize", "synth base url not configured", nil)
	}

	request := map[string]string{"text": text, "voice_id": voiceID}
	encoded, err := json.Marshal(request)
	if err != nil {
		return empty, fmt.Errorf("synth: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(encoded))
	if err != nil {
		return empty, fmt.Errorf("synth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, services.ClassifyTransportError("audio", "synthesize", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return empty, fmt.Errorf("synth: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return empty, services.ClassifyHTTPStatus("audio", "synthesize", resp.StatusCode, payload)
	}

	var clip Clip
	if err := json.Unmarshal(payload, &clip); err != nil {
		return empty, services.Wrap(services.ErrExternalService, "audio", "synthesize", "decode response", err)
	}
	if len(clip.Audio) == 0 {
		return empty, services.Wrap(services.ErrExternalService, "audio", "synthesize", "empty audio payload", nil)
	}
	return clip, nil
}
