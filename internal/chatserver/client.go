// internal/chatserver/client.go

package chatserver

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/fisionet/messaging/internal/messaging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next frame or pong from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Maximum number of queued frames per client
	sendBuffer = 256
)

// Client is one user's websocket connection
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	service Service
	limiter *rate.Limiter

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, service Service, limiter *rate.Limiter) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		userID:  userID,
		service: service,
		limiter: limiter,
	}
}

func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump, which closes the socket. Safe to call twice.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error for %s: %v", c.userID, err)
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if c.limiter != nil && !c.limiter.Allow() {
			framesRateLimited.Inc()
			log.Printf("Rate limit exceeded for %s, dropping frame", c.userID)
			continue
		}

		// frames are handled in arrival order
		c.processMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one JSON frame per websocket message
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) processMessage(data []byte) {
	msg, err := messaging.DecodeFrame(data)
	if err != nil {
		var unknown *messaging.UnknownFrameError
		if !errors.As(err, &unknown) {
			log.Printf("Error unmarshaling message from %s: %v", c.userID, err)
		}
		return
	}

	switch msg.Type {
	case messaging.TypePing:
		c.reply(messaging.ProtocolMessage{Type: messaging.TypePong})

	case messaging.TypeMessage:
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()

		sent, err := c.service.SendMessage(ctx, c.userID, *msg.Request, "websocket")
		if err != nil {
			log.Printf("Error sending message from %s: %v", c.userID, err)
			return
		}
		c.reply(messaging.ProtocolMessage{Type: messaging.TypeMessageSent, Message: sent})

	default:
		// pushes are server-to-client only
	}
}

func (c *Client) reply(msg messaging.ProtocolMessage) {
	data, err := messaging.EncodeFrame(msg)
	if err != nil {
		log.Printf("Error marshalling %s frame: %v", msg.Type, err)
		return
	}
	if !c.trySend(data) {
		go c.hub.Unregister(c)
	}
}
