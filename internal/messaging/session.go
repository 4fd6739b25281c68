// internal/messaging/session.go

package messaging

import (
	"context"
	"log"
	"sync"
	"time"
)

// SessionConfig carries the settings of every component a Session builds.
type SessionConfig struct {
	Connection     ConnectionConfig
	UnreadInterval time.Duration
	Thread         ThreadConfig
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Connection:     DefaultConnectionConfig(),
		UnreadInterval: DefaultUnreadInterval,
		Thread:         ThreadConfig{HistoryLimit: DefaultHistoryLimit, Dedup: true},
	}
}

// Session ties the messaging components to one signed-in identity. Login
// builds a fresh set wired to a fresh Bus; Logout tears all of it down.
// Nothing outside the session opens or closes the Connection.
type Session struct {
	api    API
	peers  PeerLookup
	dialer Dialer
	cfg    SessionConfig

	mu        sync.Mutex
	identity  string
	bus       *Bus
	conn      *Connection
	directory *Directory
	unread    *UnreadAggregator
	thread    *Thread
}

func NewSession(api API, peers PeerLookup, dialer Dialer, cfg SessionConfig) *Session {
	return &Session{
		api:    api,
		peers:  peers,
		dialer: dialer,
		cfg:    cfg,
	}
}

// Login signs identity in. The same identity again is a no-op; a different
// one signs the previous identity out first. The returned error is the one of
// the first conversation load; the session stays signed in regardless.
func (s *Session) Login(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrNoIdentity
	}

	s.mu.Lock()
	if s.identity == identity {
		s.mu.Unlock()
		return nil
	}
	if s.identity != "" {
		log.Printf("Switching session from %s to %s", s.identity, identity)
		s.logoutLocked()
	}

	bus := NewBus()
	conn := NewConnection(s.dialer, bus.Frames, bus.State, s.cfg.Connection)
	unread := NewUnreadAggregator(s.api, bus.Unread, s.cfg.UnreadInterval)
	directory := NewDirectory(s.api, s.peers, unread, bus.Conversations)
	thread := NewThread(s.api, directory, conn, s.cfg.Thread)

	directory.SetIdentity(identity)
	thread.SetIdentity(identity)

	bus.Frames.Subscribe(directory.HandleFrame)
	bus.Frames.Subscribe(unread.HandleFrame)
	bus.Frames.Subscribe(thread.HandleFrame)
	bus.Profile.Subscribe(directory.HandleProfile)

	s.identity = identity
	s.bus = bus
	s.conn = conn
	s.directory = directory
	s.unread = unread
	s.thread = thread
	s.mu.Unlock()

	unread.SetIdentity(identity)
	conn.Connect(identity)

	log.Printf("Session started for %s", identity)

	_, err := directory.Load(ctx, identity)
	return err
}

// Logout disconnects, stops the unread timer, closes the thread and drops
// every handler. It is safe to call when signed out.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutLocked()
}

func (s *Session) logoutLocked() {
	if s.identity == "" {
		return
	}

	s.conn.Disconnect()
	s.unread.Stop()
	s.thread.Close()
	s.directory.SetIdentity("")
	s.bus.Clear()

	log.Printf("Session ended for %s", s.identity)

	s.identity = ""
	s.bus = nil
	s.conn = nil
	s.directory = nil
	s.unread = nil
	s.thread = nil
}

// PublishProfileChange notifies the session's subscribers that a user's
// display data changed.
func (s *Session) PublishProfileChange(change ProfileChange) {
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()

	if bus == nil {
		return
	}
	bus.Profile.Dispatch(change)
}

func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// The accessors below return nil while signed out.

func (s *Session) Bus() *Bus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus
}

func (s *Session) Connection() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) Directory() *Directory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directory
}

func (s *Session) Unread() *UnreadAggregator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Session) Thread() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread
}
