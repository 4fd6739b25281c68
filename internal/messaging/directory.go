// internal/messaging/directory.go

package messaging

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Directory is the client's list of conversations. Every Load replaces the
// server-backed part of the list wholesale; pending conversations started
// locally are kept until the server lists a conversation with that peer.
type Directory struct {
	api    API
	peers  PeerLookup
	unread Refresher
	topic  *Topic[[]Conversation]

	mu       sync.Mutex
	identity string
	convs    []Conversation
	pending  []Conversation
	seq      uint64
	applied  uint64

	// reloads started from push frames; tests wait on it
	reloads sync.WaitGroup
}

// NewDirectory creates an empty directory. peers, unread and topic may be nil.
func NewDirectory(api API, peers PeerLookup, unread Refresher, topic *Topic[[]Conversation]) *Directory {
	if topic == nil {
		topic = NewTopic[[]Conversation]("conversations")
	}
	return &Directory{
		api:    api,
		peers:  peers,
		unread: unread,
		topic:  topic,
	}
}

// SetIdentity clears the list when the identity changes.
func (d *Directory) SetIdentity(identity string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if identity == d.identity {
		return
	}
	d.identity = identity
	d.convs = nil
	d.pending = nil
	d.seq++
	d.applied = d.seq
}

// Load fetches the conversation list for identity and replaces the local
// snapshot with it. A response older than one already applied is discarded
// and the current list returned instead.
func (d *Directory) Load(ctx context.Context, identity string) ([]Conversation, error) {
	if identity == "" {
		return nil, ErrNoIdentity
	}
	d.SetIdentity(identity)
	return d.load(ctx, identity)
}

// load fetches and applies a snapshot for identity without claiming it. The
// snapshot is dropped if the directory has moved to another identity.
func (d *Directory) load(ctx context.Context, identity string) ([]Conversation, error) {
	d.mu.Lock()
	if identity != d.identity {
		list := d.listLocked()
		d.mu.Unlock()
		return list, nil
	}
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	convs, err := d.api.Conversations(ctx, identity)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if identity != d.identity || seq < d.applied {
		list := d.listLocked()
		d.mu.Unlock()
		return list, nil
	}
	d.applied = seq

	snapshot := make([]Conversation, len(convs))
	copy(snapshot, convs)
	sortConversations(snapshot)
	d.convs = snapshot

	listed := make(map[string]bool, len(snapshot))
	for _, c := range snapshot {
		listed[c.OtherUserID] = true
	}
	kept := d.pending[:0]
	for _, p := range d.pending {
		if !listed[p.OtherUserID] {
			kept = append(kept, p)
		}
	}
	d.pending = kept

	list := d.listLocked()
	d.mu.Unlock()

	d.topic.Dispatch(list)
	return list, nil
}

// Start returns the conversation with peerID, synthesising a pending one when
// there is none. Peer display data is fetched only for the pending case.
func (d *Directory) Start(ctx context.Context, peerID string) (Conversation, error) {
	if peerID == "" {
		return Conversation{}, fmt.Errorf("start conversation: empty peer id")
	}

	d.mu.Lock()
	if d.identity == "" {
		d.mu.Unlock()
		return Conversation{}, ErrNoIdentity
	}
	if c, ok := d.byPeerLocked(peerID); ok {
		d.mu.Unlock()
		return c, nil
	}
	identity := d.identity
	d.mu.Unlock()

	conv := Conversation{OtherUserID: peerID}
	if d.peers != nil {
		peer, err := d.peers.Peer(ctx, peerID)
		if err != nil {
			return Conversation{}, err
		}
		conv.OtherUserName = peer.DisplayName()
		conv.OtherUserEmail = peer.Email
		conv.OtherUserRole = peer.Role
	}

	d.mu.Lock()
	if identity != d.identity {
		d.mu.Unlock()
		return Conversation{}, ErrNoIdentity
	}
	// someone else may have started or loaded it meanwhile
	if c, ok := d.byPeerLocked(peerID); ok {
		d.mu.Unlock()
		return c, nil
	}
	d.pending = append(d.pending, conv)
	list := d.listLocked()
	d.mu.Unlock()

	d.topic.Dispatch(list)
	return conv, nil
}

// MarkRead marks a conversation read on the server, then zeroes its local
// unread count and refreshes the aggregate. A failed call changes nothing
// and is not retried.
func (d *Directory) MarkRead(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return ErrPendingConversation
	}

	d.mu.Lock()
	identity := d.identity
	d.mu.Unlock()
	if identity == "" {
		return ErrNoIdentity
	}

	if err := d.api.MarkRead(ctx, identity, conversationID); err != nil {
		return err
	}

	d.mu.Lock()
	if identity != d.identity {
		d.mu.Unlock()
		return nil
	}
	for i := range d.convs {
		if d.convs[i].ConversationID == conversationID {
			d.convs[i].UnreadCount = 0
		}
	}
	list := d.listLocked()
	d.mu.Unlock()

	d.topic.Dispatch(list)

	if d.unread != nil {
		if _, err := d.unread.Refresh(ctx); err != nil {
			log.Printf("Failed to refresh unread count after mark read: %v", err)
		}
	}
	return nil
}

// Conversations returns a copy of the current list: server conversations
// newest first, then pending ones.
func (d *Directory) Conversations() []Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listLocked()
}

// Find looks a conversation up by id.
func (d *Directory) Find(conversationID string) (Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range d.convs {
		if c.ConversationID == conversationID {
			return c, true
		}
	}
	return Conversation{}, false
}

// ByPeer looks a conversation up by the other participant.
func (d *Directory) ByPeer(peerID string) (Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byPeerLocked(peerID)
}

// Changes exposes the conversations topic.
func (d *Directory) Changes() *Topic[[]Conversation] {
	return d.topic
}

// HandleFrame reloads the whole list after every chat push. The reload runs
// off the dispatch goroutine.
func (d *Directory) HandleFrame(msg ProtocolMessage) {
	if !msg.IsChatEvent() {
		return
	}

	d.mu.Lock()
	identity := d.identity
	d.mu.Unlock()
	if identity == "" {
		return
	}

	d.reloads.Add(1)
	go func() {
		defer d.reloads.Done()
		if _, err := d.load(context.Background(), identity); err != nil {
			log.Printf("Failed to reload conversations: %v", err)
		}
	}()
}

// HandleProfile patches the display cache of conversations with that peer.
func (d *Directory) HandleProfile(change ProfileChange) {
	d.mu.Lock()
	patched := false
	patch := func(c *Conversation) {
		if c.OtherUserID != change.UserID {
			return
		}
		if change.Name != "" {
			c.OtherUserName = change.Name
		}
		if change.Email != "" {
			c.OtherUserEmail = change.Email
		}
		if change.Role != "" {
			c.OtherUserRole = change.Role
		}
		patched = true
	}
	for i := range d.convs {
		patch(&d.convs[i])
	}
	for i := range d.pending {
		patch(&d.pending[i])
	}
	list := d.listLocked()
	d.mu.Unlock()

	if patched {
		d.topic.Dispatch(list)
	}
}

// Wait blocks until reloads started by HandleFrame have finished.
func (d *Directory) Wait() {
	d.reloads.Wait()
}

func (d *Directory) byPeerLocked(peerID string) (Conversation, bool) {
	for _, c := range d.convs {
		if c.OtherUserID == peerID {
			return c, true
		}
	}
	for _, c := range d.pending {
		if c.OtherUserID == peerID {
			return c, true
		}
	}
	return Conversation{}, false
}

func (d *Directory) listLocked() []Conversation {
	list := make([]Conversation, 0, len(d.convs)+len(d.pending))
	list = append(list, d.convs...)
	return append(list, d.pending...)
}
