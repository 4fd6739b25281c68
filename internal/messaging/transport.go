// internal/messaging/transport.go

package messaging

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Time allowed to complete the websocket handshake
	handshakeTimeout = 10 * time.Second
)

// Transport is one live duplex connection. ReadMessage blocks until a text
// frame arrives or the connection ends.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Transport for an identity.
type Dialer interface {
	Dial(ctx context.Context, identity string) (Transport, error)
}

// WebSocketDialer dials {BaseURL}/ws/{identity}.
type WebSocketDialer struct {
	BaseURL string
	Tokens  TokenSource
	dialer  *websocket.Dialer
}

func NewWebSocketDialer(baseURL string, tokens TokenSource) *WebSocketDialer {
	return &WebSocketDialer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, identity string) (Transport, error) {
	endpoint := fmt.Sprintf("%s/ws/%s", d.BaseURL, url.PathEscape(identity))

	header := http.Header{}
	if d.Tokens != nil {
		if token, err := d.Tokens.Token(); err == nil && token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(maxMessageSize)

	return &wsTransport{conn: conn}, nil
}

// wsTransport serialises writes; gorilla allows one concurrent writer.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.writeMu.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()

	return t.conn.Close()
}
