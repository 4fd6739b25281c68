// internal/messaging/models.go

package messaging

import (
	"sort"
	"time"
)

// Message is a single chat message as the message server stores it.
// Messages are never mutated once created.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	ReceiverID     string `json:"receiver_id"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"` // seconds since epoch
	Read           bool   `json:"read"`
}

// Conversation is one row of the conversation list, seen from the signed-in user.
// An empty ConversationID marks a pending conversation that exists only locally.
type Conversation struct {
	ConversationID  string `json:"conversation_id"`
	OtherUserID     string `json:"other_user_id"`
	OtherUserName   string `json:"other_user_name"`
	OtherUserEmail  string `json:"other_user_email"`
	OtherUserRole   string `json:"other_user_role"`
	LastMessage     string `json:"last_message,omitempty"`
	LastMessageTime int64  `json:"last_message_time,omitempty"`
	UnreadCount     int64  `json:"unread_count"`
}

// IsPending reports whether the server has not assigned an id yet.
func (c Conversation) IsPending() bool {
	return c.ConversationID == ""
}

// SendMessageRequest is the payload of an outbound "message" frame and of
// POST /users/{id}/messages.
type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required"`
	Content    string `json:"content" validate:"required,max=4000"`
}

// Peer is the display data of another user, served by the users service.
type Peer struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// DisplayName joins first and last name the way the message server does.
func (p Peer) DisplayName() string {
	return p.FirstName + " " + p.LastName
}

// ProfileChange is published when a user's display data changes.
type ProfileChange struct {
	UserID string
	Name   string
	Email  string
	Role   string
}

// PendingStatus is the state of a send that has not been echoed back yet.
type PendingStatus string

const (
	PendingSending PendingStatus = "sending"
	PendingFailed  PendingStatus = "failed"
)

// PendingSend tracks an outbound message between transmit and server echo.
type PendingSend struct {
	Nonce      string        `json:"nonce"`
	ReceiverID string        `json:"receiver_id"`
	Content    string        `json:"content"`
	CreatedAt  time.Time     `json:"created_at"`
	Status     PendingStatus `json:"status"`
}

// sortConversations orders by last message time, newest first. Conversations
// without a last message count as time 0.
func sortConversations(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageTime > convs[j].LastMessageTime
	})
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}
