// internal/messaging/thread.go

package messaging

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fisionet/messaging/internal/common/utils"
)

// ReadMarker marks a conversation read. Directory implements it.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID string) error
}

// Sender transmits a frame. Connection implements it.
type Sender interface {
	Send(msg ProtocolMessage) error
}

// ThreadConfig tunes a Thread.
type ThreadConfig struct {
	HistoryLimit int
	// Dedup drops a pushed message whose id is already in the thread.
	Dedup bool
}

// Thread is the view-model of the single open conversation.
type Thread struct {
	api    API
	marker ReadMarker
	sender Sender
	cfg    ThreadConfig

	mu       sync.Mutex
	identity string
	conv     *Conversation
	gen      uint64
	messages []Message
	seen     map[string]bool
	pending  []PendingSend

	now func() time.Time
}

func NewThread(api API, marker ReadMarker, sender Sender, cfg ThreadConfig) *Thread {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Thread{
		api:    api,
		marker: marker,
		sender: sender,
		cfg:    cfg,
		seen:   make(map[string]bool),
		now:    time.Now,
	}
}

// SetIdentity closes the open conversation when the identity changes.
func (t *Thread) SetIdentity(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if identity == t.identity {
		return
	}
	t.identity = identity
	t.resetLocked(nil)
}

// Open switches the view to conv. A conversation with an id loads its latest
// messages and is marked read; a pending one opens empty without any request.
// If another Open or Close happens before the history arrives, the result is
// dropped and ErrViewSuperseded returned.
func (t *Thread) Open(ctx context.Context, conv Conversation) ([]Message, error) {
	t.mu.Lock()
	if t.identity == "" {
		t.mu.Unlock()
		return nil, ErrNoIdentity
	}
	c := conv
	t.resetLocked(&c)
	gen := t.gen
	identity := t.identity
	t.mu.Unlock()

	if conv.IsPending() {
		return []Message{}, nil
	}

	history, err := t.api.Messages(ctx, identity, conv.ConversationID, t.cfg.HistoryLimit)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return nil, ErrViewSuperseded
	}
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}

	// pushes that landed while the request was in flight are already in
	// t.messages; the fetched page may or may not include them
	merged := make([]Message, 0, len(history)+len(t.messages))
	ids := make(map[string]bool, len(history)+len(t.messages))
	for _, m := range history {
		if ids[m.ID] {
			continue
		}
		ids[m.ID] = true
		merged = append(merged, m)
	}
	for _, m := range t.messages {
		if !ids[m.ID] {
			ids[m.ID] = true
			merged = append(merged, m)
		}
	}
	sortMessages(merged)
	t.messages = merged
	t.seen = ids
	out := t.messagesLocked()
	t.mu.Unlock()

	if t.marker != nil {
		if err := t.marker.MarkRead(ctx, conv.ConversationID); err != nil {
			log.Printf("Failed to mark conversation %s as read: %v", conv.ConversationID, err)
		}
	}
	return out, nil
}

// Close empties the view. Late history responses are discarded.
func (t *Thread) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(nil)
}

// AppendIncoming adds m if it belongs to the open conversation. A pending
// conversation adopts the id of the first message exchanged with its peer.
func (t *Thread) AppendIncoming(m Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(m)
}

// SendOptimistic transmits content to the open conversation's peer. The thread
// itself only changes when the server echoes the message back; until then the
// send is tracked as a PendingSend. If the connection is down the entry is
// marked failed and the send error returned.
func (t *Thread) SendOptimistic(content string) (PendingSend, error) {
	t.mu.Lock()
	if t.conv == nil {
		t.mu.Unlock()
		return PendingSend{}, ErrNoConversation
	}

	req := SendMessageRequest{ReceiverID: t.conv.OtherUserID, Content: strings.TrimSpace(content)}
	if err := utils.ValidateStruct(req); err != nil {
		t.mu.Unlock()
		return PendingSend{}, err
	}

	ps := PendingSend{
		Nonce:      uuid.NewString(),
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		CreatedAt:  t.now(),
		Status:     PendingSending,
	}
	t.pending = append(t.pending, ps)
	gen := t.gen
	t.mu.Unlock()

	if err := t.sender.Send(ChatMessage(req.ReceiverID, req.Content)); err != nil {
		ps.Status = PendingFailed
		t.mu.Lock()
		if gen == t.gen {
			for i := range t.pending {
				if t.pending[i].Nonce == ps.Nonce {
					t.pending[i].Status = PendingFailed
				}
			}
		}
		t.mu.Unlock()
		return ps, err
	}
	return ps, nil
}

// HandleFrame applies chat pushes. A message_sent echo first settles the
// oldest matching pending send.
func (t *Thread) HandleFrame(msg ProtocolMessage) {
	if !msg.IsChatEvent() {
		return
	}
	m := *msg.Message

	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.Type == TypeMessageSent {
		t.settleLocked(m)
	}
	t.appendLocked(m)
}

// Messages returns a copy of the thread in ascending timestamp order.
func (t *Thread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messagesLocked()
}

// Pending returns the sends not yet echoed by the server.
func (t *Thread) Pending() []PendingSend {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PendingSend, len(t.pending))
	copy(out, t.pending)
	return out
}

// Current returns the open conversation.
func (t *Thread) Current() (Conversation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conv == nil {
		return Conversation{}, false
	}
	return *t.conv, true
}

func (t *Thread) appendLocked(m Message) bool {
	if t.conv == nil {
		return false
	}

	if t.conv.IsPending() {
		if m.ConversationID == "" || !t.involvesPeerLocked(m) {
			return false
		}
		t.conv.ConversationID = m.ConversationID
	} else if m.ConversationID != t.conv.ConversationID {
		return false
	}

	if t.cfg.Dedup && t.seen[m.ID] {
		return false
	}
	t.seen[m.ID] = true

	t.messages = append(t.messages, m)
	if n := len(t.messages); n > 1 && t.messages[n-2].Timestamp > m.Timestamp {
		sortMessages(t.messages)
	}
	return true
}

func (t *Thread) involvesPeerLocked(m Message) bool {
	peer := t.conv.OtherUserID
	return (m.SenderID == t.identity && m.ReceiverID == peer) ||
		(m.SenderID == peer && m.ReceiverID == t.identity)
}

func (t *Thread) settleLocked(m Message) {
	for i, p := range t.pending {
		if p.Status == PendingSending && p.ReceiverID == m.ReceiverID && p.Content == m.Content {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}

func (t *Thread) resetLocked(conv *Conversation) {
	t.gen++
	t.conv = conv
	t.messages = nil
	t.seen = make(map[string]bool)
	t.pending = nil
}

func (t *Thread) messagesLocked() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}
