// internal/messaging/dispatcher.go

package messaging

import (
	"log"
	"sync"
)

// SubscriptionID identifies a registered handler. Go funcs are not comparable,
// so the id stands in for the handler when unsubscribing.
type SubscriptionID uint64

type subscriber[T any] struct {
	id SubscriptionID
	fn func(T)
}

// Topic is a named publish/subscribe registry. Handlers run synchronously in
// registration order; a handler that panics does not stop the ones after it.
type Topic[T any] struct {
	name string

	mu     sync.RWMutex
	subs   []subscriber[T]
	nextID SubscriptionID
}

func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name}
}

func (t *Topic[T]) Name() string { return t.name }

// Subscribe registers fn and returns the id to remove it with.
func (t *Topic[T]) Subscribe(fn func(T)) SubscriptionID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	t.subs = append(t.subs, subscriber[T]{id: t.nextID, fn: fn})
	return t.nextID
}

// Unsubscribe removes a handler. Unknown ids are ignored.
func (t *Topic[T]) Unsubscribe(id SubscriptionID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, s := range t.subs {
		if s.id == id {
			// copy instead of in-place removal: a dispatch may still hold the old slice
			next := make([]subscriber[T], 0, len(t.subs)-1)
			next = append(next, t.subs[:i]...)
			t.subs = append(next, t.subs[i+1:]...)
			return
		}
	}
}

// Clear drops every handler.
func (t *Topic[T]) Clear() {
	t.mu.Lock()
	t.subs = nil
	t.mu.Unlock()
}

func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Dispatch delivers v to the handlers registered when the call started.
// Subscribe/Unsubscribe from inside a handler only affect later dispatches.
func (t *Topic[T]) Dispatch(v T) {
	t.mu.RLock()
	snapshot := t.subs
	t.mu.RUnlock()

	for _, s := range snapshot {
		t.invoke(s, v)
	}
}

func (t *Topic[T]) invoke(s subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			err := &HandlerError{Topic: t.name, Value: r}
			log.Printf("Dispatch error: %v", err)
			recordHandlerPanic(t.name)
		}
	}()
	s.fn(v)
}

// Dispatcher fans decoded frames out to interested components.
type Dispatcher = Topic[ProtocolMessage]

func NewDispatcher() *Dispatcher {
	return NewTopic[ProtocolMessage]("frames")
}

// Bus groups the typed topics shared by one signed-in session.
type Bus struct {
	Frames        *Dispatcher
	State         *Topic[State]
	Unread        *Topic[int64]
	Conversations *Topic[[]Conversation]
	Profile       *Topic[ProfileChange]
}

func NewBus() *Bus {
	return &Bus{
		Frames:        NewDispatcher(),
		State:         NewTopic[State]("connection.state"),
		Unread:        NewTopic[int64]("unread.count"),
		Conversations: NewTopic[[]Conversation]("conversations"),
		Profile:       NewTopic[ProfileChange]("profile.changed"),
	}
}

// Clear removes every handler on every topic.
func (b *Bus) Clear() {
	b.Frames.Clear()
	b.State.Clear()
	b.Unread.Clear()
	b.Conversations.Clear()
	b.Profile.Clear()
}
