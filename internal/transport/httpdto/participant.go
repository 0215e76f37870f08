package httpdto

import (
	"parley/internal/services"
	"parley/internal/token"
)

// AuthPayload is merged under "auth" whenever a participant token was minted.
type AuthPayload struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

func NewAuthPayload(issued *token.Issued) *AuthPayload {
	if issued == nil {
		return nil
	}
	return &AuthPayload{
		Token:     issued.Token,
		TokenType: "Bearer",
		ExpiresIn: issued.ExpiresIn,
	}
}

// ParticipantResponse describes the caller as a participant of one conversation.
type ParticipantResponse struct {
	UID            int64  `json:"uid"`
	PID            int64  `json:"pid"`
	ConversationID string `json:"conversation_id"`
	Kind           string `json:"kind"`
	XID            string `json:"xid,omitempty"`
	Created        bool   `json:"created"`
}

func FromIdentity(ident services.Identity) ParticipantResponse {
	return ParticipantResponse{
		UID:            ident.UID,
		PID:            ident.PID,
		ConversationID: ident.ConversationID,
		Kind:           ident.Kind.String(),
		XID:            ident.XID,
		Created:        ident.Created,
	}
}

// ParticipationInitResponse is the body of GET /v1/participationInit.
type ParticipationInitResponse struct {
	Participant  ParticipantResponse `json:"participant"`
	Conversation ConversationSummary `json:"conversation"`
	Auth         *AuthPayload        `json:"auth,omitempty"`
}

// ParticipantMeResponse is the body of GET /v1/participants/me.
type ParticipantMeResponse struct {
	Participant ParticipantResponse `json:"participant"`
	Auth        *AuthPayload        `json:"auth,omitempty"`
}

type ConversationSummary struct {
	ConversationID   string `json:"conversation_id"`
	UseXIDWhitelist  bool   `json:"use_xid_whitelist"`
	ParticipantCount int64  `json:"participant_count"`
}
