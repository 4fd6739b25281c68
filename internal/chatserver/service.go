// internal/chatserver/service.go

package chatserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fisionet/messaging/internal/common/utils"
	"github.com/fisionet/messaging/internal/messaging"
)

// Notifier pushes encoded frames to connected users. Hub implements it.
type Notifier interface {
	SendToUser(userID string, data []byte) bool
}

// Service is the chat business logic shared by the REST and websocket paths
type Service interface {
	SendMessage(ctx context.Context, senderID string, req messaging.SendMessageRequest, transport string) (*messaging.Message, error)
	GetConversations(ctx context.Context, userID string) ([]messaging.Conversation, error)
	GetMessages(ctx context.Context, userID, conversationID string, limit int) ([]messaging.Message, error)
	MarkConversationRead(ctx context.Context, userID, conversationID string) error
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	Ping(ctx context.Context) error
}

type service struct {
	store        Store
	users        UserDirectory
	notifier     Notifier
	defaultLimit int
	now          func() time.Time
}

func NewService(store Store, users UserDirectory, notifier Notifier, defaultLimit int) Service {
	if defaultLimit <= 0 {
		defaultLimit = messaging.DefaultHistoryLimit
	}
	return &service{
		store:        store,
		users:        users,
		notifier:     notifier,
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

// SendMessage persists a message, bumps the receiver's unread counter and
// pushes new_message to the receiver if they are connected.
func (s *service) SendMessage(ctx context.Context, senderID string, req messaging.SendMessageRequest, transport string) (*messaging.Message, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	now := s.now().Unix()

	conversationID, err := s.store.GetOrCreateConversation(ctx, senderID, req.ReceiverID, now)
	if err != nil {
		return nil, err
	}

	message := &messaging.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		Timestamp:      now,
		Read:           false,
	}

	if err := s.store.SaveMessage(ctx, message); err != nil {
		return nil, err
	}

	if err := s.store.IncrementUnread(ctx, conversationID, req.ReceiverID); err != nil {
		log.Printf("Failed to increment unread for %s: %v", req.ReceiverID, err)
	}

	recordMessageSent(transport)
	s.push(message)

	return message, nil
}

func (s *service) push(message *messaging.Message) {
	if s.notifier == nil {
		return
	}

	data, err := messaging.EncodeFrame(messaging.ProtocolMessage{
		Type:    messaging.TypeNewMessage,
		Message: message,
	})
	if err != nil {
		log.Printf("Error marshalling new_message: %v", err)
		return
	}
	recordPush(s.notifier.SendToUser(message.ReceiverID, data))
}

// GetConversations lists the user's conversations, newest first. Peers the
// user directory does not know are left out.
func (s *service) GetConversations(ctx context.Context, userID string) ([]messaging.Conversation, error) {
	ids, err := s.store.ListConversationIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	conversations := make([]messaging.Conversation, 0, len(ids))
	for _, id := range ids {
		rec, err := s.store.GetConversation(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrConversationNotFound) {
				log.Printf("Failed to load conversation %s: %v", id, err)
			}
			continue
		}

		otherID := rec.Other(userID)
		user, err := s.users.GetUser(ctx, otherID)
		if err != nil {
			if !errors.Is(err, ErrUserNotFound) {
				log.Printf("Failed to load user %s: %v", otherID, err)
			}
			continue
		}

		unread, err := s.store.GetUnread(ctx, id, userID)
		if err != nil {
			log.Printf("Failed to read unread count for %s: %v", id, err)
		}

		conv := messaging.Conversation{
			ConversationID: id,
			OtherUserID:    otherID,
			OtherUserName:  user.Name,
			OtherUserEmail: user.Email,
			OtherUserRole:  user.Role,
			UnreadCount:    unread,
		}
		if rec.HasLastMessage {
			conv.LastMessage = rec.LastMessage
			conv.LastMessageTime = rec.LastMessageTime
		}
		conversations = append(conversations, conv)
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastMessageTime > conversations[j].LastMessageTime
	})
	return conversations, nil
}

func (s *service) GetMessages(ctx context.Context, userID, conversationID string, limit int) ([]messaging.Message, error) {
	if err := s.checkParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	return s.store.GetMessages(ctx, conversationID, limit)
}

func (s *service) MarkConversationRead(ctx context.Context, userID, conversationID string) error {
	if err := s.checkParticipant(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.store.ResetUnread(ctx, conversationID, userID)
}

// GetUnreadCount sums the user's per-conversation counters
func (s *service) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	ids, err := s.store.ListConversationIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, id := range ids {
		n, err := s.store.GetUnread(ctx, id, userID)
		if err != nil {
			return 0, fmt.Errorf("failed to read unread count for %s: %w", id, err)
		}
		total += n
	}
	return total, nil
}

func (s *service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *service) checkParticipant(ctx context.Context, userID, conversationID string) error {
	rec, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !rec.Has(userID) {
		return ErrConversationNotFound
	}
	return nil
}
