// internal/chatserver/redis.go

package chatserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/fisionet/messaging/internal/messaging"
)

// Key layout:
//
//	message:{id}                         JSON message
//	conversation:{cid}                   hash: id, participant1_id, participant2_id, last_message, last_message_time, created_at
//	conversation:{cid}:messages          list of message ids, append order
//	conversation:{cid}:unread:{uid}      counter
//	user:{a}:conversation:{b}            conversation id for the pair
//	user:{uid}:conversations             set of conversation ids

func messageKey(id string) string { return "message:" + id }
func conversationKey(cid string) string { return "conversation:" + cid }
func conversationMessagesKey(cid string) string { return "conversation:" + cid + ":messages" }
func unreadKey(cid, uid string) string { return "conversation:" + cid + ":unread:" + uid }
func pairKey(a, b string) string { return "user:" + a + ":conversation:" + b }
func userConversationsKey(uid string) string { return "user:" + uid + ":conversations" }

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// createConversation claims both pair keys and writes the conversation in one
// step. If either pair key is already set, its id is returned and nothing is
// written, so concurrent first messages in both directions share one id.
//
// KEYS: pair(a,b), pair(b,a), conversation hash, conversations of a, of b
// ARGV: id, a, b, created_at
var createConversation = redis.NewScript(`
local id = redis.call('GET', KEYS[1])
if id then return id end
id = redis.call('GET', KEYS[2])
if id then return id end

id = ARGV[1]
redis.call('SET', KEYS[1], id)
redis.call('SET', KEYS[2], id)
redis.call('HSET', KEYS[3], 'id', id, 'participant1_id', ARGV[2], 'participant2_id', ARGV[3], 'created_at', ARGV[4])
redis.call('SADD', KEYS[4], id)
redis.call('SADD', KEYS[5], id)
return id
`)

func (s *RedisStore) GetOrCreateConversation(ctx context.Context, a, b string, now int64) (string, error) {
	if id, err := s.lookupPair(ctx, a, b); err != nil || id != "" {
		return id, err
	}

	id := uuid.NewString()
	keys := []string{
		pairKey(a, b),
		pairKey(b, a),
		conversationKey(id),
		userConversationsKey(a),
		userConversationsKey(b),
	}

	got, err := createConversation.Run(ctx, s.client, keys, id, a, b, strconv.FormatInt(now, 10)).Text()
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return got, nil
}

func (s *RedisStore) lookupPair(ctx context.Context, a, b string) (string, error) {
	for _, key := range []string{pairKey(a, b), pairKey(b, a)} {
		id, err := s.client.Get(ctx, key).Result()
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("failed to look up conversation: %w", err)
		}
	}
	return "", nil
}

func (s *RedisStore) SaveMessage(ctx context.Context, m *messaging.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, messageKey(m.ID), data, 0)
		pipe.RPush(ctx, conversationMessagesKey(m.ConversationID), m.ID)
		pipe.HSet(ctx, conversationKey(m.ConversationID),
			"last_message", m.Content,
			"last_message_time", strconv.FormatInt(m.Timestamp, 10),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrementUnread(ctx context.Context, conversationID, userID string) error {
	return s.client.Incr(ctx, unreadKey(conversationID, userID)).Err()
}

func (s *RedisStore) ResetUnread(ctx context.Context, conversationID, userID string) error {
	return s.client.Set(ctx, unreadKey(conversationID, userID), 0, 0).Err()
}

func (s *RedisStore) GetUnread(ctx context.Context, conversationID, userID string) (int64, error) {
	n, err := s.client.Get(ctx, unreadKey(conversationID, userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) ListConversationIDs(ctx context.Context, userID string) ([]string, error) {
	return s.client.SMembers(ctx, userConversationsKey(userID)).Result()
}

func (s *RedisStore) GetConversation(ctx context.Context, conversationID string) (*ConversationRecord, error) {
	fields, err := s.client.HGetAll(ctx, conversationKey(conversationID)).Result()
	if err != nil {
		return nil, err
	}
	if fields["participant1_id"] == "" || fields["participant2_id"] == "" {
		return nil, ErrConversationNotFound
	}

	rec := &ConversationRecord{
		ID:             conversationID,
		Participant1ID: fields["participant1_id"],
		Participant2ID: fields["participant2_id"],
		LastMessage:    fields["last_message"],
	}
	rec.CreatedAt, _ = strconv.ParseInt(fields["created_at"], 10, 64)
	if raw, ok := fields["last_message_time"]; ok {
		if t, err := strconv.ParseInt(raw, 10, 64); err == nil {
			rec.LastMessageTime = t
			rec.HasLastMessage = true
		}
	}
	return rec, nil
}

func (s *RedisStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]messaging.Message, error) {
	ids, err := s.client.LRange(ctx, conversationMessagesKey(conversationID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []messaging.Message{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = messageKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]messaging.Message, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var m messaging.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			log.Printf("Skipping unreadable message %s: %v", ids[i], err)
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
