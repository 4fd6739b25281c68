// internal/messaging/api.go

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultHistoryLimit is how many messages a thread loads when opened.
const DefaultHistoryLimit = 50

// TokenSource yields the current bearer credential. It is read on every call.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource with a fixed value.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", ErrMissingToken
	}
	return string(t), nil
}

// API is the message server's REST surface.
type API interface {
	Conversations(ctx context.Context, identity string) ([]Conversation, error)
	Messages(ctx context.Context, identity, conversationID string, limit int) ([]Message, error)
	SendMessage(ctx context.Context, identity string, req SendMessageRequest) (*Message, error)
	MarkRead(ctx context.Context, identity, conversationID string) error
	UnreadCount(ctx context.Context, identity string) (int64, error)
}

// PeerLookup fetches display data for another user.
type PeerLookup interface {
	Peer(ctx context.Context, id string) (*Peer, error)
}

// Client talks to the message server over HTTP.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Conversations(ctx context.Context, identity string) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	endpoint := fmt.Sprintf("/users/%s/conversations", url.PathEscape(identity))
	if err := c.do(ctx, "Failed to fetch conversations", http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	if out.Conversations == nil {
		out.Conversations = []Conversation{}
	}
	return out.Conversations, nil
}

func (c *Client) Messages(ctx context.Context, identity, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var out struct {
		Messages []Message `json:"messages"`
	}
	endpoint := fmt.Sprintf("/users/%s/conversations/%s/messages?limit=%s",
		url.PathEscape(identity), url.PathEscape(conversationID), strconv.Itoa(limit))
	if err := c.do(ctx, "Failed to fetch messages", http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	return out.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, identity string, req SendMessageRequest) (*Message, error) {
	var out Message
	endpoint := fmt.Sprintf("/users/%s/messages", url.PathEscape(identity))
	if err := c.do(ctx, "Failed to send message", http.MethodPost, endpoint, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkRead(ctx context.Context, identity, conversationID string) error {
	endpoint := fmt.Sprintf("/users/%s/conversations/%s/read",
		url.PathEscape(identity), url.PathEscape(conversationID))
	return c.do(ctx, "Failed to mark conversation as read", http.MethodPost, endpoint, nil, nil)
}

func (c *Client) UnreadCount(ctx context.Context, identity string) (int64, error) {
	var out struct {
		UnreadCount int64 `json:"unread_count"`
	}
	endpoint := fmt.Sprintf("/users/%s/unread", url.PathEscape(identity))
	if err := c.do(ctx, "Failed to fetch unread count", http.MethodGet, endpoint, nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body, out interface{}) error {
	return doJSON(ctx, c.httpClient, c.tokens, op, method, c.baseURL+endpoint, body, out)
}

// UsersClient reads peer profiles from the users service.
type UsersClient struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewUsersClient(baseURL string, tokens TokenSource, timeout time.Duration) *UsersClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &UsersClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (u *UsersClient) Peer(ctx context.Context, id string) (*Peer, error) {
	var p Peer
	endpoint := fmt.Sprintf("%s/users/%s", u.baseURL, url.PathEscape(id))
	if err := doJSON(ctx, u.httpClient, u.tokens, "Failed to fetch user", http.MethodGet, endpoint, nil, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

// doJSON performs one authenticated JSON call. Every failure, including a
// missing token, comes back as a *RequestError whose message is op unless the
// server supplied an {"error": ...} body.
func doJSON(ctx context.Context, hc *http.Client, tokens TokenSource, op, method, endpoint string, body, out interface{}) error {
	token := ""
	if tokens != nil {
		t, err := tokens.Token()
		if err != nil {
			return &RequestError{Op: op, Message: op, Err: err}
		}
		token = t
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &RequestError{Op: op, Message: op, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &RequestError{Op: op, Message: op, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return &RequestError{Op: op, Message: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &RequestError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    op,
			Err:        fmt.Errorf("status not ok: %s", resp.Status),
		}
		var payload struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil && payload.Error != "" {
			reqErr.Message = payload.Error
		}
		return reqErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Message: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
