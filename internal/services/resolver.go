package services

import (
	"context"
	"fmt"
	"strings"

	"parley/internal/domain/conversation"
	"parley/internal/repository"
	"parley/internal/token"
	"parley/pkg/logger"
)

type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (token.Verified, error)
}

type TokenIssuer interface {
	Issue(kind token.Kind, conversationID string, uid, pid int64, identifier string) (token.Issued, error)
}

// Resolver turns the credentials on a request into a participant of the
// requested conversation, creating records and minting a token as needed.
//
// Precedence: a bearer token is examined first; a legacy cookie is consulted
// only if the token did not resolve an identity; then the request xid, and
// finally a fresh anonymous participant.
type Resolver struct {
	conversations *ConversationService
	verifier      TokenVerifier
	issuer        TokenIssuer
	mapper        *IdentityMapper
	participants  *ParticipantService
	xids          *XIDService
	legacy        *LegacyBridge
	users         repository.UserRepository
	log           *logger.Logger
}

// ResolverDeps holds the collaborators a Resolver needs. Logger may be nil.
type ResolverDeps struct {
	Conversations *ConversationService
	Verifier      TokenVerifier
	Issuer        TokenIssuer
	Mapper        *IdentityMapper
	Participants  *ParticipantService
	XIDs          *XIDService
	Legacy        *LegacyBridge
	Users         repository.UserRepository
	Logger        *logger.Logger
}

// NewResolver creates a new resolver
func NewResolver(deps ResolverDeps) *Resolver {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{
		conversations: deps.Conversations,
		verifier:      deps.Verifier,
		issuer:        deps.Issuer,
		mapper:        deps.Mapper,
		participants:  deps.Participants,
		xids:          deps.XIDs,
		legacy:        deps.Legacy,
		users:         deps.Users,
		log:           log,
	}
}

// Resolve returns the participant of req.ConversationID that the request's
// credentials identify, creating one when none of them resolve. Resolution.Auth
// is set only when a new token was minted.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (Resolution, error) {
	res, err := r.resolve(ctx, req)
	if err == nil && res.Identity.Created {
		r.conversations.Invalidate(ctx, res.Identity.ConversationID)
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, req ResolveRequest) (Resolution, error) {
	conv, err := r.conversations.GetByConversationID(ctx, req.ConversationID)
	if err != nil {
		return Resolution{}, err
	}
	xid, err := NormalizeXID(req.XID)
	if err != nil {
		return Resolution{}, err
	}

	// reason carries a conversation mismatch forward into later steps
	reason := IssueNone

	if raw := strings.TrimSpace(req.BearerToken); raw != "" {
		verified, err := r.verifier.Verify(ctx, raw)
		if err != nil {
			return Resolution{}, err
		}

		if verified.Kind == token.KindFederated {
			return r.resolveFederated(ctx, conv, verified.Federated)
		}

		res, resolved, err := r.resolveLocalToken(ctx, conv, verified.Claims, xid)
		if err != nil || resolved {
			return res, err
		}
		reason = IssueMismatch
	}

	if res, resolved, err := r.resolveLegacy(ctx, conv, req.LegacyCookie, xid); err != nil || resolved {
		return res, err
	}

	if xid != "" {
		return r.resolveXID(ctx, conv, xid, reason)
	}
	return r.resolveAnonymous(ctx, conv)
}

// resolveLocalToken handles a verified participant token. resolved is false
// when the token carries nothing usable for conv and resolution must go on.
func (r *Resolver) resolveLocalToken(ctx context.Context, conv conversation.Conversation, c *token.Claims, xid string) (Resolution, bool, error) {
	kind := c.Kind()

	if c.ConversationID == conv.ConversationID {
		if kind == token.KindXID && xid != "" && xid != c.XID {
			// request xid is authoritative for this conversation
			res, err := r.resolveXID(ctx, conv, xid, IssueMismatch)
			return res, true, err
		}
		return Resolution{Identity: Identity{
			UID:            c.UID,
			PID:            c.PID,
			ZID:            conv.ZID,
			ConversationID: conv.ConversationID,
			Kind:           kind,
			XID:            c.XID,
			OIDCSubject:    c.OIDCSubject,
		}}, true, nil
	}

	switch kind {
	case token.KindXID:
		if xid != "" {
			res, err := r.resolveXID(ctx, conv, xid, IssueMismatch)
			return res, true, err
		}
		// xid dropped: reuse the uid only if it already participates here
		p, found, err := r.participants.Get(ctx, conv.ZID, c.UID)
		if err != nil {
			return Resolution{}, true, err
		}
		if !found {
			return Resolution{}, false, nil
		}
		ident := Identity{
			UID:            c.UID,
			PID:            p.PID,
			ZID:            conv.ZID,
			ConversationID: conv.ConversationID,
			Kind:           token.KindAnonymous,
		}
		return r.finish(ctx, ident, IssueMismatch, ""), true, nil

	case token.KindStandardUser:
		p, created, err := r.participants.ResolveOrCreate(ctx, conv.ZID, c.UID)
		if err != nil {
			return Resolution{}, true, err
		}
		ident := Identity{
			UID:            c.UID,
			PID:            p.PID,
			ZID:            conv.ZID,
			ConversationID: conv.ConversationID,
			Kind:           token.KindStandardUser,
			OIDCSubject:    c.OIDCSubject,
			Created:        created,
		}
		reason := IssueMismatch
		if created {
			reason = IssueCreated
		}
		return r.finish(ctx, ident, reason, c.OIDCSubject), true, nil

	default:
		// anonymous identities never carry across conversations
		return Resolution{}, false, nil
	}
}

func (r *Resolver) resolveFederated(ctx context.Context, conv conversation.Conversation, claims *token.FederatedClaims) (Resolution, error) {
	profile, err := ProfileFromClaims(claims)
	if err != nil {
		return Resolution{}, err
	}

	// existing participants pass the gate; everyone else is checked before
	// any user or mapping row is written
	known, mapped, err := r.mapper.LookupUID(ctx, claims.Subject)
	if err != nil {
		return Resolution{}, err
	}
	participating := false
	if mapped {
		if _, participating, err = r.participants.Get(ctx, conv.ZID, known); err != nil {
			return Resolution{}, err
		}
	}
	if !participating {
		if err := r.precheckGate(ctx, conv); err != nil {
			return Resolution{}, err
		}
	}

	uid, err := r.mapper.ResolveOrCreateUser(ctx, claims.Subject, profile)
	if err != nil {
		return Resolution{}, err
	}
	p, created, err := r.participants.ResolveOrCreate(ctx, conv.ZID, uid)
	if err != nil {
		return Resolution{}, err
	}

	ident := Identity{
		UID:            uid,
		PID:            p.PID,
		ZID:            conv.ZID,
		ConversationID: conv.ConversationID,
		Kind:           token.KindStandardUser,
		OIDCSubject:    claims.Subject,
		Created:        created,
	}
	if !created {
		return Resolution{Identity: ident}, nil
	}
	return r.finish(ctx, ident, IssueCreated, claims.Subject), nil
}

func (r *Resolver) resolveLegacy(ctx context.Context, conv conversation.Conversation, cookie, xid string) (Resolution, bool, error) {
	lc, found, err := r.legacy.Resolve(ctx, conv.ZID, cookie)
	if err != nil || !found {
		return Resolution{}, false, err
	}

	ident := Identity{
		UID:            lc.UID,
		PID:            lc.PID,
		ZID:            conv.ZID,
		ConversationID: conv.ConversationID,
		Kind:           token.KindAnonymous,
	}
	if xid != "" {
		ident.Kind = token.KindXID
		ident.XID = xid
	}
	r.log.With(ctx).Infof("legacy cookie resolved uid=%d pid=%d zid=%d", lc.UID, lc.PID, conv.ZID)
	return r.finish(ctx, ident, IssueLegacy, xid), true, nil
}

func (r *Resolver) resolveXID(ctx context.Context, conv conversation.Conversation, xid string, reason IssueReason) (Resolution, error) {
	rec, found, err := r.xids.Find(ctx, conv, xid)
	if err != nil {
		return Resolution{}, err
	}

	createdUser := false
	if !found {
		// the cached row may predate a whitelist change
		if conv.UseXIDWhitelist, err = r.conversations.UsesXIDWhitelist(ctx, conv.ZID); err != nil {
			return Resolution{}, err
		}
		if err := r.xids.CheckWhitelist(ctx, conv, xid); err != nil {
			return Resolution{}, err
		}
		if err := r.precheckGate(ctx, conv); err != nil {
			return Resolution{}, err
		}
		rec, createdUser, err = r.xids.Create(ctx, conv, xid)
		if err != nil {
			return Resolution{}, err
		}
	}

	p, createdParticipant, err := r.participants.ResolveOrCreate(ctx, conv.ZID, rec.UID)
	if err != nil {
		return Resolution{}, err
	}

	ident := Identity{
		UID:            rec.UID,
		PID:            p.PID,
		ZID:            conv.ZID,
		ConversationID: conv.ConversationID,
		Kind:           token.KindXID,
		XID:            xid,
		Created:        createdUser || createdParticipant,
	}
	switch {
	case ident.Created:
		reason = IssueCreated
	case reason == IssueNone:
		// caller holds no token for this xid yet
		reason = IssueFirstToken
	}
	return r.finish(ctx, ident, reason, xid), nil
}

func (r *Resolver) resolveAnonymous(ctx context.Context, conv conversation.Conversation) (Resolution, error) {
	if err := r.precheckGate(ctx, conv); err != nil {
		return Resolution{}, err
	}

	uid, err := r.users.CreateAnonymousUser(ctx)
	if err != nil {
		return Resolution{}, err
	}
	p, _, err := r.participants.ResolveOrCreate(ctx, conv.ZID, uid)
	if err != nil {
		return Resolution{}, err
	}

	ident := Identity{
		UID:            uid,
		PID:            p.PID,
		ZID:            conv.ZID,
		ConversationID: conv.ConversationID,
		Kind:           token.KindAnonymous,
		Created:        true,
	}
	return r.finish(ctx, ident, IssueCreated, ""), nil
}

// precheckGate refuses before any user row is written, so a gated
// conversation never leaves orphan users behind.
func (r *Resolver) precheckGate(ctx context.Context, conv conversation.Conversation) error {
	if err := r.participants.CheckGate(ctx, conv.ZID); err != nil {
		return fmt.Errorf("conversation %s: %w", conv.ConversationID, err)
	}
	return nil
}

// finish mints a token for ident. Signing failures leave Auth nil and the
// request continues with the resolved identity.
func (r *Resolver) finish(ctx context.Context, ident Identity, reason IssueReason, identifier string) Resolution {
	res := Resolution{Identity: ident, Reason: reason}
	if reason == IssueNone || r.issuer == nil {
		return res
	}

	issued, err := r.issuer.Issue(ident.Kind, ident.ConversationID, ident.UID, ident.PID, identifier)
	if err != nil {
		r.log.With(ctx).Warnf("token issuance skipped for uid=%d zid=%d (%s): %v", ident.UID, ident.ZID, reason, err)
		return res
	}
	res.Auth = &issued
	return res
}
