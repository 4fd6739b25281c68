// internal/chatserver/store.go

package chatserver

import (
	"context"
	"errors"

	"github.com/fisionet/messaging/internal/messaging"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = errors.New("user not found")
)

// ConversationRecord is a stored one-to-one conversation.
type ConversationRecord struct {
	ID              string
	Participant1ID  string
	Participant2ID  string
	LastMessage     string
	LastMessageTime int64
	HasLastMessage  bool
	CreatedAt       int64
}

// Other returns the participant that is not userID.
func (c *ConversationRecord) Other(userID string) string {
	if c.Participant1ID == userID {
		return c.Participant2ID
	}
	return c.Participant1ID
}

// Has reports whether userID takes part in the conversation.
func (c *ConversationRecord) Has(userID string) bool {
	return c.Participant1ID == userID || c.Participant2ID == userID
}

// Store persists conversations, messages and per-user unread counters.
type Store interface {
	// GetOrCreateConversation returns the id of the conversation between a
	// and b in either order, creating it on first contact.
	GetOrCreateConversation(ctx context.Context, a, b string, now int64) (string, error)
	// SaveMessage stores m, appends it to its conversation and updates the
	// conversation's last message.
	SaveMessage(ctx context.Context, m *messaging.Message) error
	IncrementUnread(ctx context.Context, conversationID, userID string) error
	ResetUnread(ctx context.Context, conversationID, userID string) error
	GetUnread(ctx context.Context, conversationID, userID string) (int64, error)
	ListConversationIDs(ctx context.Context, userID string) ([]string, error)
	GetConversation(ctx context.Context, conversationID string) (*ConversationRecord, error)
	// GetMessages returns the last limit messages, oldest first.
	GetMessages(ctx context.Context, conversationID string, limit int) ([]messaging.Message, error)
	Ping(ctx context.Context) error
}
