// internal/chatserver/memory.go

package chatserver

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fisionet/messaging/internal/messaging"
)

// MemoryStore keeps everything in process. Used in development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	pairs         map[string]string
	conversations map[string]*ConversationRecord
	messages      map[string][]messaging.Message
	unread        map[string]int64
	userConvs     map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pairs:         make(map[string]string),
		conversations: make(map[string]*ConversationRecord),
		messages:      make(map[string][]messaging.Message),
		unread:        make(map[string]int64),
		userConvs:     make(map[string][]string),
	}
}

func (s *MemoryStore) GetOrCreateConversation(ctx context.Context, a, b string, now int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.pairs[pairKey(a, b)]; ok {
		return id, nil
	}
	if id, ok := s.pairs[pairKey(b, a)]; ok {
		return id, nil
	}

	id := uuid.NewString()
	s.conversations[id] = &ConversationRecord{
		ID:             id,
		Participant1ID: a,
		Participant2ID: b,
		CreatedAt:      now,
	}
	s.pairs[pairKey(a, b)] = id
	s.pairs[pairKey(b, a)] = id
	s.userConvs[a] = append(s.userConvs[a], id)
	if b != a {
		s.userConvs[b] = append(s.userConvs[b], id)
	}
	return id, nil
}

func (s *MemoryStore) SaveMessage(ctx context.Context, m *messaging.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[m.ConversationID]
	if !ok {
		return ErrConversationNotFound
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	conv.LastMessage = m.Content
	conv.LastMessageTime = m.Timestamp
	conv.HasLastMessage = true
	return nil
}

func (s *MemoryStore) IncrementUnread(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	s.unread[unreadKey(conversationID, userID)]++
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ResetUnread(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	s.unread[unreadKey(conversationID, userID)] = 0
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetUnread(ctx context.Context, conversationID, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[unreadKey(conversationID, userID)], nil
}

func (s *MemoryStore) ListConversationIDs(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.userConvs[userID]))
	copy(ids, s.userConvs[userID])
	return ids, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, conversationID string) (*ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	c := *conv
	return &c, nil
}

func (s *MemoryStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]messaging.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]messaging.Message, len(all))
	copy(out, all)
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
