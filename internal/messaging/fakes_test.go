package messaging

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// fakeAPI is an in-memory API. Per-call hooks let tests block or fail
// individual requests.
type fakeAPI struct {
	mu            sync.Mutex
	conversations []Conversation
	messages      map[string][]Message
	unread        int64
	unreadErr     error
	markErr       error
	convErr       error

	marked       []string
	unreadCalls  int
	convCalls    int
	messageCalls int

	// called before answering; may block
	onConversations func(call int)
	onMessages      func(call int)
	onUnread        func(call int)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{messages: make(map[string][]Message)}
}

func (f *fakeAPI) Conversations(ctx context.Context, identity string) ([]Conversation, error) {
	f.mu.Lock()
	f.convCalls++
	call := f.convCalls
	hook := f.onConversations
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return nil, f.convErr
	}
	out := make([]Conversation, len(f.conversations))
	copy(out, f.conversations)
	return out, nil
}

func (f *fakeAPI) Messages(ctx context.Context, identity, conversationID string, limit int) ([]Message, error) {
	f.mu.Lock()
	f.messageCalls++
	call := f.messageCalls
	hook := f.onMessages
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Message, len(all))
	copy(out, all)
	return out, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, identity string, req SendMessageRequest) (*Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAPI) MarkRead(ctx context.Context, identity, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, conversationID)
	for i := range f.conversations {
		if f.conversations[i].ConversationID == conversationID {
			f.unread -= f.conversations[i].UnreadCount
			f.conversations[i].UnreadCount = 0
		}
	}
	return nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context, identity string) (int64, error) {
	f.mu.Lock()
	f.unreadCalls++
	call := f.unreadCalls
	hook := f.onUnread
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreadErr != nil {
		return 0, f.unreadErr
	}
	return f.unread, nil
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) markedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marked...)
}

func (f *fakeAPI) calls() (conversations, messages, unread int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convCalls, f.messageCalls, f.unreadCalls
}

type fakePeers map[string]Peer

func (p fakePeers) Peer(ctx context.Context, id string) (*Peer, error) {
	peer, ok := p[id]
	if !ok {
		return nil, &RequestError{Op: "Failed to fetch user", StatusCode: 404, Message: "User not found"}
	}
	return &peer, nil
}

// fakeTransport hands queued frames to ReadMessage and records writes.
type fakeTransport struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-t.closed:
		return io.ErrClosedPipe
	default:
	}
	t.mu.Lock()
	t.written = append(t.written, data)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.written...)
}

func (t *fakeTransport) push(msg ProtocolMessage) {
	data, err := EncodeFrame(msg)
	if err != nil {
		panic(err)
	}
	t.in <- data
}

// fakeDialer succeeds unless fail is set.
type fakeDialer struct {
	mu         sync.Mutex
	fail       bool
	dials      int
	identities []string
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, identity string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	d.identities = append(d.identities, identity)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// fakeTimer records a scheduled callback. The callback never runs on its own.
type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

// fakeClock replaces the timer and ticker factories of a Connection.
type fakeClock struct {
	mu      sync.Mutex
	timers  []*fakeTimer
	tickers []chan time.Time
}

func (c *fakeClock) afterFunc(d time.Duration, fn func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) newTicker(d time.Duration) (<-chan time.Time, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time)
	c.tickers = append(c.tickers, ch)
	return ch, func() {}
}

func (c *fakeClock) timerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *fakeClock) timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.delay
	}
	return out
}

func (c *fakeClock) ticker(i int) chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers[i]
}

// fakeSender records frames and fails while err is set.
type fakeSender struct {
	mu   sync.Mutex
	sent []ProtocolMessage
	err  error
}

func (s *fakeSender) Send(msg ProtocolMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) frames() []ProtocolMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProtocolMessage(nil), s.sent...)
}

// recorder collects values published on a topic.
type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func record[T any](topic *Topic[T]) *recorder[T] {
	r := &recorder[T]{}
	topic.Subscribe(func(v T) {
		r.mu.Lock()
		r.values = append(r.values, v)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}
