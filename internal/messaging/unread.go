// internal/messaging/unread.go

package messaging

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultUnreadInterval is the poll period that recovers missed push events.
const DefaultUnreadInterval = 30 * time.Second

// Refresher is implemented by UnreadAggregator.
type Refresher interface {
	Refresh(ctx context.Context) (int64, error)
}

// UnreadAggregator keeps the signed-in identity's total unread count. The REST
// unread endpoint is the only source of the value; it is refreshed on identity
// change, on a timer, and on every new_message push.
type UnreadAggregator struct {
	api      API
	topic    *Topic[int64]
	interval time.Duration

	mu       sync.Mutex
	identity string
	count    int64
	seq      uint64
	applied  uint64
	stop     chan struct{}

	newTicker func(d time.Duration) (<-chan time.Time, func())
}

// NewUnreadAggregator creates an aggregator with no identity. topic may be nil.
func NewUnreadAggregator(api API, topic *Topic[int64], interval time.Duration) *UnreadAggregator {
	if interval <= 0 {
		interval = DefaultUnreadInterval
	}
	if topic == nil {
		topic = NewTopic[int64]("unread.count")
	}
	return &UnreadAggregator{
		api:      api,
		topic:    topic,
		interval: interval,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// SetIdentity switches the aggregator to identity. An empty identity tears the
// timer down and zeroes the count; a new identity re-arms the timer and
// refreshes once in the background.
func (u *UnreadAggregator) SetIdentity(identity string) {
	u.mu.Lock()
	if identity == u.identity && (identity == "" || u.stop != nil) {
		u.mu.Unlock()
		return
	}

	if u.stop != nil {
		close(u.stop)
		u.stop = nil
	}
	u.identity = identity
	u.seq++
	u.applied = u.seq
	changed := u.count != 0
	u.count = 0

	if identity != "" {
		stop := make(chan struct{})
		u.stop = stop
		go u.poll(stop)
	}
	u.mu.Unlock()

	if changed {
		recordUnread(0)
		u.topic.Dispatch(0)
	}
	if identity != "" {
		go u.refreshLogged()
	}
}

// Stop is SetIdentity("").
func (u *UnreadAggregator) Stop() {
	u.SetIdentity("")
}

// Refresh fetches the count and replaces the local value with it. On failure
// the previous count is returned along with the error and nothing changes.
// A response that arrives after a newer one was applied, or after the
// identity changed, is discarded.
func (u *UnreadAggregator) Refresh(ctx context.Context) (int64, error) {
	u.mu.Lock()
	identity := u.identity
	if identity == "" {
		u.mu.Unlock()
		return 0, ErrNoIdentity
	}
	u.seq++
	seq := u.seq
	u.mu.Unlock()

	count, err := u.api.UnreadCount(ctx, identity)

	u.mu.Lock()
	if err != nil {
		current := u.count
		u.mu.Unlock()
		return current, err
	}
	if identity != u.identity || seq < u.applied {
		current := u.count
		u.mu.Unlock()
		return current, nil
	}
	u.applied = seq
	changed := u.count != count
	u.count = count
	u.mu.Unlock()

	recordUnread(count)
	if changed {
		u.topic.Dispatch(count)
	}
	return count, nil
}

func (u *UnreadAggregator) Count() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

// Changes exposes the unread.count topic.
func (u *UnreadAggregator) Changes() *Topic[int64] {
	return u.topic
}

// HandleFrame refreshes on new_message pushes. The fetch runs off the
// dispatch goroutine.
func (u *UnreadAggregator) HandleFrame(msg ProtocolMessage) {
	if msg.Type != TypeNewMessage {
		return
	}
	go u.refreshLogged()
}

func (u *UnreadAggregator) poll(stop <-chan struct{}) {
	tick, stopTicker := u.newTicker(u.interval)
	defer stopTicker()

	for {
		select {
		case <-stop:
			return
		case <-tick:
			u.refreshLogged()
		}
	}
}

func (u *UnreadAggregator) refreshLogged() {
	if _, err := u.Refresh(context.Background()); err != nil && !errors.Is(err, ErrNoIdentity) {
		log.Printf("Failed to refresh unread count: %v", err)
	}
}
