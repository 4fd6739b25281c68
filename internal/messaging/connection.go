// internal/messaging/connection.go

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConnectionConfig holds the keepalive and reconnect settings.
type ConnectionConfig struct {
	HeartbeatInterval time.Duration
	BaseDelay         time.Duration
	MaxAttempts       int
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		HeartbeatInterval: 30 * time.Second,
		BaseDelay:         time.Second,
		MaxAttempts:       5,
	}
}

type stopper interface {
	Stop() bool
}

// Connection owns the single persistent socket of one identity. It reconnects
// with exponential backoff, sends heartbeats while open, and hands every
// decoded frame to the Dispatcher. Transport failures never reach callers;
// they only move the state machine.
type Connection struct {
	dialer Dialer
	frames *Dispatcher
	states *Topic[State]
	cfg    ConnectionConfig

	mu            sync.Mutex
	identity      string
	state         State
	attempts      int
	epoch         uint64
	transport     Transport
	policy        backoff.BackOff
	retry         stopper
	stopHeartbeat chan struct{}
	cancelDial    context.CancelFunc

	// replaced in tests
	afterFunc func(d time.Duration, f func()) stopper
	newTicker func(d time.Duration) (<-chan time.Time, func())
}

// NewConnection creates an idle connection. states may be nil.
func NewConnection(dialer Dialer, frames *Dispatcher, states *Topic[State], cfg ConnectionConfig) *Connection {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConnectionConfig().HeartbeatInterval
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConnectionConfig().BaseDelay
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if states == nil {
		states = NewTopic[State]("connection.state")
	}

	return &Connection{
		dialer: dialer,
		frames: frames,
		states: states,
		cfg:    cfg,
		state:  StateIdle,
		policy: newReconnectBackOff(cfg.BaseDelay, cfg.MaxAttempts),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Connect opens the connection for identity without blocking. It is a no-op
// when the same identity is already open or connecting; a connection held for
// another identity is closed first.
func (c *Connection) Connect(identity string) {
	if identity == "" {
		log.Printf("WebSocket connect skipped: empty identity")
		return
	}

	c.mu.Lock()
	if c.identity == identity && (c.state == StateOpen || c.state == StateConnecting) {
		c.mu.Unlock()
		return
	}
	if c.identity != "" && c.identity != identity {
		log.Printf("Replacing websocket for %s with %s", c.identity, identity)
	}

	old := c.resetLocked()
	c.identity = identity
	epoch := c.epoch
	ctx := c.dialContextLocked()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	c.states.Dispatch(StateConnecting)

	go c.dial(ctx, epoch, identity)
}

// Send writes msg if the connection is open. Otherwise the frame is dropped,
// logged, and ErrNotConnected returned; nothing is queued.
func (c *Connection) Send(msg ProtocolMessage) error {
	c.mu.Lock()
	t := c.transport
	open := c.state == StateOpen && t != nil
	c.mu.Unlock()

	if !open {
		log.Printf("WebSocket is not connected, dropping %s frame", msg.Type)
		recordSendFailure("not_connected")
		return ErrNotConnected
	}

	data, err := EncodeFrame(msg)
	if err != nil {
		recordSendFailure("encode")
		return err
	}

	if err := t.WriteMessage(data); err != nil {
		log.Printf("WebSocket write failed: %v", err)
		recordSendFailure("write")
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// Disconnect closes the socket and cancels pending reconnects and heartbeats.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	old := c.resetLocked()
	c.identity = ""
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	c.states.Dispatch(StateClosed)
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Attempts is the reconnect attempt counter; zero after every successful open.
func (c *Connection) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// StateChanges exposes the connection.state topic.
func (c *Connection) StateChanges() *Topic[State] {
	return c.states
}

func (c *Connection) dial(ctx context.Context, epoch uint64, identity string) {
	t, err := c.dialer.Dial(ctx, identity)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		if t != nil {
			t.Close()
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("WebSocket connect failed for %s: %v", identity, err)
		}
		next := c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.states.Dispatch(next)
		return
	}

	c.transport = t
	c.attempts = 0
	c.policy.Reset()
	stop := make(chan struct{})
	c.stopHeartbeat = stop
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	log.Printf("WebSocket connected for %s", identity)
	c.states.Dispatch(StateOpen)

	go c.heartbeat(epoch, stop)
	c.readLoop(epoch, t)
}

func (c *Connection) readLoop(epoch uint64, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			c.lost(epoch, t, err)
			return
		}

		msg, err := DecodeFrame(data)
		if err != nil {
			c.drop(err)
			continue
		}
		recordFrame(msg.Type)

		if msg.Type == TypePong {
			continue
		}
		if !c.current(epoch) {
			return
		}
		c.frames.Dispatch(msg)
	}
}

func (c *Connection) drop(err error) {
	var unknown *UnknownFrameError
	if errors.As(err, &unknown) {
		recordDrop("unknown_type")
		return
	}
	log.Printf("Error parsing WebSocket message: %v", err)
	recordDrop("decode")
}

// heartbeat pings while the connection stays open. It exits for good the first
// time it finds the connection not open; the next open starts a new loop.
func (c *Connection) heartbeat(epoch uint64, stop <-chan struct{}) {
	tick, stopTicker := c.newTicker(c.cfg.HeartbeatInterval)
	defer stopTicker()

	for {
		select {
		case <-stop:
			return
		case <-tick:
			c.mu.Lock()
			open := epoch == c.epoch && c.state == StateOpen
			c.mu.Unlock()
			if !open {
				return
			}
			if err := c.Send(PingMessage()); err != nil {
				return
			}
		}
	}
}

func (c *Connection) lost(epoch uint64, t Transport, err error) {
	t.Close()

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	log.Printf("WebSocket disconnected for %s: %v", c.identity, err)
	c.transport = nil
	next := c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.states.Dispatch(next)
}

// scheduleReconnectLocked arms the next attempt or gives up when the attempts
// are exhausted. It returns the new state.
func (c *Connection) scheduleReconnectLocked() State {
	c.stopHeartbeatLocked()
	c.epoch++

	delay := c.policy.NextBackOff()
	if delay == backoff.Stop {
		log.Printf("WebSocket for %s closed after %d reconnect attempts", c.identity, c.attempts)
		c.setStateLocked(StateClosed)
		return StateClosed
	}

	c.attempts++
	epoch := c.epoch
	log.Printf("Attempting to reconnect in %v (attempt %d)", delay, c.attempts)
	recordReconnect()

	c.retry = c.afterFunc(delay, func() { c.reconnect(epoch) })
	c.setStateLocked(StateReconnecting)
	return StateReconnecting
}

func (c *Connection) reconnect(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	identity := c.identity
	ctx := c.dialContextLocked()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.states.Dispatch(StateConnecting)
	c.dial(ctx, epoch, identity)
}

// resetLocked invalidates every callback of the current cycle and returns the
// transport the caller must close.
func (c *Connection) resetLocked() Transport {
	c.epoch++
	c.stopHeartbeatLocked()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.attempts = 0
	c.policy.Reset()

	t := c.transport
	c.transport = nil
	return t
}

func (c *Connection) dialContextLocked() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	return ctx
}

func (c *Connection) stopHeartbeatLocked() {
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
}

func (c *Connection) setStateLocked(s State) {
	c.state = s
	recordState(s)
}

func (c *Connection) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch
}
