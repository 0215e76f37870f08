package conversation

import (
	"time"
)

// Conversation represents the conversations table
type Conversation struct {
	ZID              int64     `json:"zid"`
	ConversationID   string    `json:"conversation_id"`
	Owner            int64     `json:"owner"`
	UseXIDWhitelist  bool      `json:"use_xid_whitelist"`
	InviteGated      bool      `json:"invite_gated"`
	ParticipantCount int64     `json:"participant_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// Participant represents the participants table
type Participant struct {
	ZID       int64
	UID       int64
	PID       int64
	CreatedAt time.Time
}

// LegacyCookie represents the legacy_participant_cookies table
type LegacyCookie struct {
	ZID    int64
	Cookie string
	UID    int64
	PID    int64
}
