// Package voicecast wraps the entity/voice assignment service: character
// rosters per story session, the LLM-backed character derivation endpoint,
// and the voice catalog.
package voicecast

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

// Character is one narrated entity in a story session.
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// Voice is one synthesizer voice from the catalog.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Narrator bool   `json:"narrator,omitempty"`
}

// Assignment binds a character to a voice.
type Assignment struct {
	CharacterID string `json:"character_id"`
	VoiceID     string `json:"voice_id"`
}

// Client talks to the voice casting service.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Option customizes the voice casting client.
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

// New constructs a voice casting client from service configuration.
func New(cfg config.Service, opts ...Option) *Client {
	client := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ListCharacters returns the characters already known for a session.
func (c *Client) ListCharacters(ctx context.Context, sessionID string) ([]Character, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("voicecast list: session id required")
	}
	var out struct {
		Characters []Character `json:"characters"`
	}
	path := fmt.Sprintf("/sessions/%s/characters", url.PathEscape(sessionID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Characters, nil
}

// DeriveCharacters asks the service to extract characters from session
// content via its language model. The returned characters are not yet
// persisted; callers save them through SaveRoster.
func (c *Client) DeriveCharacters(ctx context.Context, sessionID, sceneText string) ([]Character, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("voicecast derive: session id required")
	}
	if strings.TrimSpace(sceneText) == "" {
		return nil, errors.New("voicecast derive: scene text required")
	}
	request := map[string]string{
		"session_id": sessionID,
		"text":       sceneText,
	}
	if c.model != "" {
		request["model"] = c.model
	}
	var out struct {
		Characters []Character `json:"characters"`
	}
	if err := c.do(ctx, http.MethodPost, "/characters/derive", request, &out); err != nil {
		return nil, err
	}
	return out.Characters, nil
}

// ListVoices returns the voice catalog grouped by category.
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	var out struct {
		Voices []Voice `json:"voices"`
	}
	if err := c.do(ctx, http.MethodGet, "/voices", nil, &out); err != nil {
		return nil, err
	}
	return out.Voices, nil
}

// SaveRoster persists voice assignments for a session. The service replaces
// any previous roster wholesale, so re-running an interrupted assignment pass
// never duplicates entries.
func (c *Client) SaveRoster(ctx context.Context, sessionID string, assignments []Assignment) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("voicecast save: session id required")
	}
	request := map[string]any{"assignments": assignments}
	path := fmt.Sprintf("/sessions/%s/roster", url.PathEscape(sessionID))
	return c.do(ctx, http.MethodPut, path, request, nil)
}

func (c *Client) do(ctx context.Context, method, path string, request, response any) error {
	if strings.TrimSpace(c.baseURL) == "" {
		return services.Wrap(services.ErrConfiguration, "voices", "request", "voice casting base url not configured", nil)
	}

	var body io.Reader
	if request != nil {
		encoded, err := json.Marshal(request)
		if err != nil {
			return fmt.Errorf("voicecast: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("voicecast: build request: %w", err)
	}
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.ClassifyTransportError("voices", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("voicecast: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.ClassifyHTTPStatus("voices", path, resp.StatusCode, payload)
	}
	if response == nil {
		return nil
	}
	if err := json.Unmarshal(payload, response); err != nil {
		return services.Wrap(services.ErrExternalService, "voices", path, "decode response", err)
	}
	return nil
}
