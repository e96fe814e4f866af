package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"fabula/internal/daemon"
	"fabula/internal/events"
	"fabula/internal/pipeline"
)

// apiClient is a thin HTTP client for the fabulad control API.
type apiClient struct {
	baseURL string
	wsURL   string
	token   string
	http    *http.Client
}

func newAPIClient(addr, token string) (*apiClient, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("daemon address is not configured; pass --server or set api.bind in the config")
	}
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimSuffix(addr, "/")
	return &apiClient{
		baseURL: "http://" + addr,
		wsURL:   "ws://" + addr,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapConnectError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("daemon: %s", payload.Error)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}

func wrapConnectError(err error, base string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && errors.Is(urlErr.Err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; verify fabulad is running", base)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}

func (c *apiClient) status() (daemon.Status, error) {
	var st daemon.Status
	err := c.do(http.MethodGet, "/api/status", nil, &st)
	return st, err
}

func (c *apiClient) sessions() ([]pipeline.Report, error) {
	var payload struct {
		Sessions []pipeline.Report `json:"sessions"`
	}
	err := c.do(http.MethodGet, "/api/sessions", nil, &payload)
	return payload.Sessions, err
}

func (c *apiClient) session(id string) (pipeline.Report, error) {
	var rep pipeline.Report
	err := c.do(http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &rep)
	return rep, err
}

func (c *apiClient) generate(id string, content pipeline.Content) error {
	body := map[string]any{"content": content}
	return c.do(http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/generate", body, nil)
}

type retryResult struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (c *apiClient) retry(id, stage string) (retryResult, error) {
	var result retryResult
	body := map[string]string{"stage": stage}
	err := c.do(http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/retry", body, &result)
	return result, err
}

func (c *apiClient) cancel(id string) error {
	return c.do(http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *apiClient) readyAck(id string) error {
	return c.do(http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/ready-ack", nil, nil)
}

// streamEvents dials the session websocket and delivers decoded events to fn
// until the connection drops or fn returns false.
func (c *apiClient) streamEvents(id string, fn func(events.Event) bool) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL+"/api/sessions/"+url.PathEscape(id)+"/events", header)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer conn.Close()

	for {
		var evt events.Event
		if err := conn.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}
		if !fn(evt) {
			return nil
		}
	}
}
