package database

import (
	"context"
	"fmt"
	"log"

	"parley/internal/domain/conversation"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SeedDB is satisfied by *pgxpool.Pool and pgx.Tx.
type SeedDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SeedConfig holds configuration for seeding the database
type SeedConfig struct {
	OwnerEmail       string
	OwnerDisplayName string
	Conversations    []SeedConversation
	// WhitelistXIDs are allowed for every whitelisted conversation of the owner.
	WhitelistXIDs []string
}

type SeedConversation struct {
	ConversationID  string
	UseXIDWhitelist bool
	InviteGated     bool
}

// DefaultSeedConfig returns the development data set: an open "demo"
// conversation, a second open one for cross-conversation checks, and a
// whitelisted one.
func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		OwnerEmail:       "owner@parley.local",
		OwnerDisplayName: "Demo Owner",
		Conversations: []SeedConversation{
			{ConversationID: "demo"},
			{ConversationID: "c1"},
			{ConversationID: "members", UseXIDWhitelist: true},
		},
		WhitelistXIDs: []string{"ext-1"},
	}
}

// SeedResult holds the result of the seeding operation
type SeedResult struct {
	OwnerUID      int64
	Conversations []conversation.Conversation
}

// Seed upserts the owner, its conversations and whitelist entries. Running it
// twice leaves the same rows in place.
func Seed(ctx context.Context, db SeedDB, cfg *SeedConfig) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}

	log.Println("Starting database seeding...")

	owner, err := seedOwner(ctx, db, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to seed owner: %w", err)
	}
	result := &SeedResult{OwnerUID: owner}

	for _, sc := range cfg.Conversations {
		conv, err := seedConversation(ctx, db, owner, sc)
		if err != nil {
			return nil, fmt.Errorf("failed to seed conversation %s: %w", sc.ConversationID, err)
		}
		result.Conversations = append(result.Conversations, conv)
	}

	for _, xid := range cfg.WhitelistXIDs {
		if _, err := db.Exec(ctx, `
			INSERT INTO xid_whitelist (owner, xid) VALUES ($1, $2)
			ON CONFLICT (owner, xid) DO NOTHING`, owner, xid); err != nil {
			return nil, fmt.Errorf("failed to whitelist xid %s: %w", xid, err)
		}
	}

	log.Println("Database seeding completed successfully!")
	return result, nil
}

func seedOwner(ctx context.Context, db SeedDB, cfg *SeedConfig) (int64, error) {
	var uid int64
	err := db.QueryRow(ctx, `
		INSERT INTO users (email, hname, is_anonymous)
		VALUES ($1, $2, FALSE)
		ON CONFLICT (email) DO UPDATE SET hname = EXCLUDED.hname, updated_at = NOW()
		RETURNING uid`, cfg.OwnerEmail, cfg.OwnerDisplayName).Scan(&uid)
	if err != nil {
		return 0, err
	}
	log.Printf("Owner %s has uid %d", cfg.OwnerEmail, uid)
	return uid, nil
}

func seedConversation(ctx context.Context, db SeedDB, owner int64, sc SeedConversation) (conversation.Conversation, error) {
	c := conversation.Conversation{
		ConversationID:  sc.ConversationID,
		Owner:           owner,
		UseXIDWhitelist: sc.UseXIDWhitelist,
		InviteGated:     sc.InviteGated,
	}
	err := db.QueryRow(ctx, `
		INSERT INTO conversations (conversation_id, owner, use_xid_whitelist, invite_gated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE
			SET use_xid_whitelist = EXCLUDED.use_xid_whitelist,
			    invite_gated = EXCLUDED.invite_gated
		RETURNING zid, participant_count, created_at`,
		c.ConversationID, c.Owner, c.UseXIDWhitelist, c.InviteGated).
		Scan(&c.ZID, &c.ParticipantCount, &c.CreatedAt)
	if err != nil {
		return conversation.Conversation{}, err
	}
	log.Printf("Conversation %s has zid %d", c.ConversationID, c.ZID)
	return c, nil
}
