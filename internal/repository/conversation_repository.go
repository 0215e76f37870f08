package repository

import (
	"context"
	"errors"

	"parley/internal/domain/conversation"
	parley_errors "parley/pkg/errors"

	"github.com/jackc/pgx/v5"
)

type PostgresConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO conversations (conversation_id, owner, use_xid_whitelist, invite_gated)
		VALUES ($1, $2, $3, $4)
		RETURNING zid, participant_count, created_at`,
		c.ConversationID, c.Owner, c.UseXIDWhitelist, c.InviteGated).
		Scan(&c.ZID, &c.ParticipantCount, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return parley_errors.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *PostgresConversationRepository) GetByConversationID(ctx context.Context, conversationID string) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.QueryRow(ctx, `
		SELECT zid, conversation_id, owner, use_xid_whitelist, invite_gated, participant_count, created_at
		FROM conversations WHERE conversation_id = $1`, conversationID).
		Scan(&c.ZID, &c.ConversationID, &c.Owner, &c.UseXIDWhitelist, &c.InviteGated, &c.ParticipantCount, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return conversation.Conversation{}, parley_errors.ErrConversationNotFound
		}
		return conversation.Conversation{}, err
	}
	return c, nil
}

// IsParticipationGated reads the gate flag directly so a cached conversation
// never hides a freshly enabled gate.
func (r *PostgresConversationRepository) IsParticipationGated(ctx context.Context, zid int64) (bool, error) {
	var gated bool
	err := r.db.QueryRow(ctx, `SELECT invite_gated FROM conversations WHERE zid = $1`, zid).Scan(&gated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, parley_errors.ErrConversationNotFound
		}
		return false, err
	}
	return gated, nil
}

// UsesXIDWhitelist reads the whitelist flag directly, like IsParticipationGated.
func (r *PostgresConversationRepository) UsesXIDWhitelist(ctx context.Context, zid int64) (bool, error) {
	var enabled bool
	err := r.db.QueryRow(ctx, `SELECT use_xid_whitelist FROM conversations WHERE zid = $1`, zid).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, parley_errors.ErrConversationNotFound
		}
		return false, err
	}
	return enabled, nil
}
