package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"parley/internal/domain/conversation"

	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - conversation:{conversation_id} - conversation metadata, ConversationTTL

type CacheConfig struct {
	ConversationTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ConversationTTL: 5 * time.Minute,
	}
}

// CacheStore handles caching in Redis
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{
		client: client,
		config: config,
	}
}

func conversationKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// GetConversation returns (nil, nil) on a cache miss.
func (c *CacheStore) GetConversation(ctx context.Context, conversationID string) (*conversation.Conversation, error) {
	data, err := c.client.Get(ctx, conversationKey(conversationID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var conv conversation.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *CacheStore) SetConversation(ctx context.Context, conv *conversation.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, conversationKey(conv.ConversationID), data, c.config.ConversationTTL).Err()
}

func (c *CacheStore) InvalidateConversation(ctx context.Context, conversationID string) error {
	return c.client.Del(ctx, conversationKey(conversationID)).Err()
}

func (c *CacheStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
