// Package chatkit is a Go client for the chat service: REST access to
// chats, message history, and user search, plus a realtime session that
// keeps local chat, message, and presence state in sync with the server
// over a persistent WebSocket channel.
//
// Example:
//
//	client := chatkit.NewClient(token)
//
//	// REST
//	chats, _ := client.Chats(ctx)
//	page, _ := client.ChatMessages(ctx, chats[0].ID, 1)
//
//	// Realtime session
//	session, _ := chatkit.NewSession(&chatkit.SessionOptions{Token: token})
//	session.Start(ctx)
//	defer session.Stop()
//	session.SelectChat(chats[0].ID)
//	session.SendMessage("hello")
package chatkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client for the chat API. It is safe for concurrent
// use. The token is sent as a bearer credential on every request; token
// issuance itself is handled elsewhere.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *log.Logger
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new chat API client authenticated with token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the auth token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

// apiErrorBody covers the error shapes the server is known to emit.
type apiErrorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode)}
		var eb apiErrorBody
		if json.Unmarshal(data, &eb) == nil {
			if eb.Code != "" {
				apiErr.Code = eb.Code
			}
			switch {
			case eb.Detail != "":
				apiErr.Message = eb.Detail
			case eb.Message != "":
				apiErr.Message = eb.Message
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Chat API Methods
// ============================================================================

// Chats fetches the full chat list for the authenticated user.
func (c *Client) Chats(ctx context.Context) ([]Chat, error) {
	data, err := c.doRequest(ctx, "GET", "/chats", nil, nil)
	if err != nil {
		return nil, err
	}
	chats, err := decodeJSON[[]Chat](data)
	if err != nil {
		return nil, err
	}
	return *chats, nil
}

// ChatMessages fetches one page of message history for a chat. Page
// numbering starts at 1. The server's sort direction is not part of the
// contract; callers must order by timestamp themselves.
func (c *Client) ChatMessages(ctx context.Context, chatID int64, page int) ([]Message, error) {
	if page < 1 {
		page = 1
	}
	path := fmt.Sprintf("/chats/%d/messages", chatID)
	data, err := c.doRequest(ctx, "GET", path, nil, map[string]string{
		"page": fmt.Sprintf("%d", page),
	})
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// CreateChat creates a chat with the given participants. name may be
// empty for one-to-one chats; the display name is then derived from the
// other participant.
func (c *Client) CreateChat(ctx context.Context, name string, isGroup bool, participantIDs []int64) (*Chat, error) {
	if len(participantIDs) == 0 {
		return nil, &APIError{Code: "INVALID_INPUT", Message: "at least one participant is required"}
	}
	payload := map[string]interface{}{
		"isGroup":        isGroup,
		"participantIds": participantIDs,
	}
	if name != "" {
		payload["name"] = name
	}
	data, err := c.doRequest(ctx, "POST", "/chats", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Chat](data)
}

// SearchUsers searches users by name or handle. The query is clamped to
// MaxSearchQueryLen characters before it reaches the network.
func (c *Client) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	query = clampQuery(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	data, err := c.doRequest(ctx, "GET", "/users/search", nil, map[string]string{
		"query": query,
		"limit": fmt.Sprintf("%d", limit),
	})
	if err != nil {
		return nil, err
	}
	users, err := decodeJSON[[]User](data)
	if err != nil {
		return nil, err
	}
	return *users, nil
}
