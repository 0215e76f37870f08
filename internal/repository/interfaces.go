package repository

import (
	"context"

	"parley/internal/domain/conversation"
	"parley/internal/domain/user"
)

// UserRepository owns users and the OIDC subject mapping. UpsertOIDCUser is a
// single transactional attempt; a lost race surfaces as ErrConflict and the
// caller decides whether to retry.
type UserRepository interface {
	GetByUID(ctx context.Context, uid int64) (user.User, error)
	CreateAnonymousUser(ctx context.Context) (int64, error)

	GetUIDByOIDCSubject(ctx context.Context, subject string) (int64, error)
	UpsertOIDCUser(ctx context.Context, subject string, profile user.Profile) (int64, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, c *conversation.Conversation) error
	GetByConversationID(ctx context.Context, conversationID string) (conversation.Conversation, error)
	IsParticipationGated(ctx context.Context, zid int64) (bool, error)
	UsesXIDWhitelist(ctx context.Context, zid int64) (bool, error)
}

// ParticipantRepository assigns per-conversation ordinals. Create returns
// ErrAlreadyExists when (zid, uid) already has a row.
type ParticipantRepository interface {
	Get(ctx context.Context, zid, uid int64) (conversation.Participant, error)
	Create(ctx context.Context, zid, uid int64) (conversation.Participant, error)
}

// XIDRepository resolves caller-supplied external ids. CreateXIDUser creates
// the backing user and the xid row together; created is false when another
// request won the race, in which case the stored record is returned.
type XIDRepository interface {
	Find(ctx context.Context, owner int64, xid string, zid int64) (user.XIDRecord, error)
	IsWhitelisted(ctx context.Context, owner int64, xid string) (bool, error)
	AddToWhitelist(ctx context.Context, owner int64, xid string) error
	CreateXIDUser(ctx context.Context, owner int64, xid string, zid int64) (rec user.XIDRecord, created bool, err error)
}

// LegacyCookieRepository is read only.
type LegacyCookieRepository interface {
	Find(ctx context.Context, zid int64, cookie string) (conversation.LegacyCookie, error)
}
