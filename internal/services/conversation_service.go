package services

import (
	"context"
	"fmt"
	"strings"

	"parley/internal/domain/conversation"
	"parley/internal/repository"
	parley_errors "parley/pkg/errors"
	"parley/pkg/logger"
)

// ConversationCache is implemented by redis.CacheStore. A nil result with a
// nil error is a miss.
type ConversationCache interface {
	GetConversation(ctx context.Context, conversationID string) (*conversation.Conversation, error)
	SetConversation(ctx context.Context, conv *conversation.Conversation) error
	InvalidateConversation(ctx context.Context, conversationID string) error
}

type ConversationService struct {
	repo  repository.ConversationRepository
	cache ConversationCache
	log   *logger.Logger
}

// NewConversationService creates a new conversation service. cache may be nil.
func NewConversationService(repo repository.ConversationRepository, cache ConversationCache, log *logger.Logger) *ConversationService {
	if log == nil {
		log = logger.NewNop()
	}
	return &ConversationService{repo: repo, cache: cache, log: log}
}

// GetByConversationID resolves the public conversation id to its row. Cache
// failures are logged and fall through to the database.
func (s *ConversationService) GetByConversationID(ctx context.Context, conversationID string) (conversation.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return conversation.Conversation{}, fmt.Errorf("%w: conversation_id required", parley_errors.ErrInvalidInput)
	}

	if s.cache != nil {
		cached, err := s.cache.GetConversation(ctx, conversationID)
		if err != nil {
			s.log.With(ctx).Warnf("conversation cache read failed for %s: %v", conversationID, err)
		} else if cached != nil {
			return *cached, nil
		}
	}

	conv, err := s.repo.GetByConversationID(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}

	if s.cache != nil {
		if err := s.cache.SetConversation(ctx, &conv); err != nil {
			s.log.With(ctx).Warnf("conversation cache write failed for %s: %v", conversationID, err)
		}
	}
	return conv, nil
}

// IsParticipationGated always reads through to the store.
func (s *ConversationService) IsParticipationGated(ctx context.Context, zid int64) (bool, error) {
	return s.repo.IsParticipationGated(ctx, zid)
}

// UsesXIDWhitelist always reads through to the store.
func (s *ConversationService) UsesXIDWhitelist(ctx context.Context, zid int64) (bool, error) {
	return s.repo.UsesXIDWhitelist(ctx, zid)
}

// Invalidate drops the cached row so the next read sees the current
// participant_count. Failures are logged; the entry then expires with its TTL.
func (s *ConversationService) Invalidate(ctx context.Context, conversationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateConversation(ctx, conversationID); err != nil {
		s.log.With(ctx).Warnf("conversation cache invalidate failed for %s: %v", conversationID, err)
	}
}
