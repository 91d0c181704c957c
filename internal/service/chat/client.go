// Package chat talks to the chatbot backend over HTTP.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"waverchat/internal/models"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrNetwork covers requests that failed or timed out before a response.
	ErrNetwork   = errors.New("chat service unreachable")
	ErrServer    = errors.New("chat service returned an error")
	ErrMalformed = errors.New("chat service returned a malformed response")
)

// ServerError is a non-2xx answer.
type ServerError struct {
	Status int
	Detail string
}

func (e *ServerError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("chat service status %d", e.Status)
	}
	return fmt.Sprintf("chat service status %d: %s", e.Status, e.Detail)
}

func (e *ServerError) Unwrap() error {
	return ErrServer
}

// Client is safe for concurrent use.
type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
}

// NewClient builds a client for baseURL. timeout bounds every request.
func NewClient(baseURL, sessionID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: sessionID,
		http:      &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Message string `json:"mensaje"`
}

type chatResponse struct {
	Response json.RawMessage `json:"respuesta"`
	Intent   *string         `json:"intencion"`
	Tokens   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"tokens"`
}

// Send posts one user message and returns the bot reply.
func (c *Client) Send(ctx context.Context, text string) (*models.Reply, error) {
	body, err := json.Marshal(chatRequest{Message: text})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/chat", nil), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var payload chatResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var content string
	if len(payload.Response) == 0 || string(payload.Response) == "null" || json.Unmarshal(payload.Response, &content) != nil {
		return nil, fmt.Errorf("%w: respuesta missing or not a string", ErrMalformed)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: respuesta is empty", ErrMalformed)
	}
	reply := &models.Reply{Content: content}
	if payload.Intent != nil {
		reply.Intent = models.IntentPtr(*payload.Intent)
	}
	if payload.Tokens != nil {
		if payload.Tokens.PromptTokens < 0 || payload.Tokens.CompletionTokens < 0 {
			return nil, fmt.Errorf("%w: negative token counts", ErrMalformed)
		}
		usage := models.NewTokenUsage(payload.Tokens.PromptTokens, payload.Tokens.CompletionTokens)
		reply.Tokens = &usage
	}
	return reply, nil
}

// History fetches the server-side view of recent exchanges. limit <= 0
// uses the server default.
func (c *Client) History(ctx context.Context, limit int) ([]models.RemoteExchange, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/chat/history", query), nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var payload struct {
		History []models.RemoteExchange `json:"history"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.History == nil {
		payload.History = []models.RemoteExchange{}
	}
	return payload.History, nil
}

// Health returns the backend's diagnostic payload as-is.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/chat/health", nil), nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}
	data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return payload, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	if c.sessionID != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("session_id", c.sessionID)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do executes req and classifies failures into the package sentinels.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServerError{Status: resp.StatusCode, Detail: errorDetail(data)}
	}
	return data, nil
}

// errorDetail extracts {"detail": ...} bodies; other bodies are returned
// trimmed.
func errorDetail(data []byte) string {
	var body struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
		if raw, err := json.Marshal(body.Detail); err == nil {
			return string(raw)
		}
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
