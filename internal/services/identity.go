package services

import (
	"context"

	"parley/internal/token"
)

// Identity is the resolved participant for one request. It is built once by
// the Resolver and only read afterwards.
type Identity struct {
	UID            int64
	PID            int64
	ZID            int64
	ConversationID string
	Kind           token.Kind
	XID            string
	OIDCSubject    string
	// Created is set when a user or participant row was written by this request.
	Created bool
}

// IssueReason records why a token was minted.
type IssueReason int

const (
	IssueNone IssueReason = iota
	IssueCreated
	IssueMismatch
	IssueFirstToken
	IssueLegacy
)

func (r IssueReason) String() string {
	switch r {
	case IssueCreated:
		return "created"
	case IssueMismatch:
		return "conversation_mismatch"
	case IssueFirstToken:
		return "first_token"
	case IssueLegacy:
		return "legacy_cookie"
	default:
		return "none"
	}
}

// Resolution is the Resolver's output. Auth is nil when no token was minted,
// including when minting was attempted and failed.
type Resolution struct {
	Identity Identity
	Auth     *token.Issued
	Reason   IssueReason
}

// ResolveRequest carries the inbound credentials for one request.
type ResolveRequest struct {
	ConversationID string
	BearerToken    string
	XID            string
	LegacyCookie   string
}

type ctxKey string

var resolutionKey ctxKey = "participant_resolution"

func WithResolution(ctx context.Context, res Resolution) context.Context {
	return context.WithValue(ctx, resolutionKey, res)
}

func ResolutionFromContext(ctx context.Context) (Resolution, bool) {
	res, ok := ctx.Value(resolutionKey).(Resolution)
	return res, ok
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	res, ok := ResolutionFromContext(ctx)
	if !ok {
		return Identity{}, false
	}
	return res.Identity, true
}
