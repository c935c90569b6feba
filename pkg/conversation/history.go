package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cognidesk/cognidesk/pkg/kvstore"
)

// HistoryStore is the durable side of conversation state.
type HistoryStore interface {
	GetMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	AddMessage(ctx context.Context, conversationID string, msg Message) error
	SetMetadata(ctx context.Context, conversationID string, meta map[string]string) error
	GetMetadata(ctx context.Context, conversationID string) (map[string]string, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// kvHistoryStore keeps messages in an append-only list and metadata in a
// hash, both keyed per conversation.
type kvHistoryStore struct {
	store kvstore.Store
}

// NewHistoryStore wraps a KV store as the durable history backend.
func NewHistoryStore(store kvstore.Store) HistoryStore {
	return &kvHistoryStore{store: store}
}

func (s *kvHistoryStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	key := kvstore.ConversationKey(conversationID)

	start := int64(0)
	if limit > 0 {
		length, err := s.store.ListLen(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("history length for %s: %w", conversationID, err)
		}
		if length > int64(limit) {
			start = length - int64(limit)
		}
	}

	raw, err := s.store.ListRange(ctx, key, start, -1)
	if err != nil {
		return nil, fmt.Errorf("history read for %s: %w", conversationID, err)
	}

	messages := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("corrupt message in %s: %w", conversationID, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *kvHistoryStore) AddMessage(ctx context.Context, conversationID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.store.ListPush(ctx, kvstore.ConversationKey(conversationID), string(data))
}

func (s *kvHistoryStore) SetMetadata(ctx context.Context, conversationID string, meta map[string]string) error {
	key := kvstore.ConversationMetaKey(conversationID)
	for field, value := range meta {
		if err := s.store.HashSet(ctx, key, field, value); err != nil {
			return fmt.Errorf("set metadata %s: %w", field, err)
		}
	}
	return nil
}

func (s *kvHistoryStore) GetMetadata(ctx context.Context, conversationID string) (map[string]string, error) {
	meta, err := s.store.HashGetAll(ctx, kvstore.ConversationMetaKey(conversationID))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return meta, nil
}

func (s *kvHistoryStore) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.store.Delete(ctx, kvstore.ConversationKey(conversationID)); err != nil {
		return err
	}
	return s.store.Delete(ctx, kvstore.ConversationMetaKey(conversationID))
}
