package services

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"parley/internal/domain/conversation"
	"parley/internal/keys"
	"parley/internal/retry"
	"parley/internal/token"
	parley_errors "parley/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/errgroup"
)

const (
	testOwner    int64 = 1000
	testIssuer         = "https://parley.test/"
	testAudience       = "participants"
	idpIssuer          = "https://idp.test/"
	idpAudience        = "parley"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 5, Sleep: noSleep}
}

type harness struct {
	store    *memStore
	resolver *Resolver
	verifier *token.Verifier
	idpKey   *ecdsa.PrivateKey

	demo, c1, other, whitelisted, gated conversation.Conversation
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	issuer TokenIssuer
	cache  ConversationCache
}

func withIssuer(i TokenIssuer) harnessOption {
	return func(c *harnessConfig) { c.issuer = i }
}

func withConversationCache(c ConversationCache) harnessOption {
	return func(cfg *harnessConfig) { cfg.cache = c }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	signing, err := keys.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey() error = %v", err)
	}
	idpKey, err := keys.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey() error = %v", err)
	}
	provider := keys.NewProvider(signing, "test-1", keys.StaticKeySet{"idp-1": &idpKey.PublicKey})
	verifier := token.NewVerifier(provider, testIssuer, testAudience, token.FederatedOptions{Issuer: idpIssuer, Audience: idpAudience})

	cfg := harnessConfig{issuer: token.NewIssuer(provider, testIssuer, testAudience, 365*24*time.Hour)}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := newMemStore()
	h := &harness{store: store, verifier: verifier, idpKey: idpKey}
	h.demo = store.addConversation(conversation.Conversation{ZID: 1, ConversationID: "demo", Owner: testOwner})
	h.c1 = store.addConversation(conversation.Conversation{ZID: 2, ConversationID: "c1", Owner: testOwner})
	h.other = store.addConversation(conversation.Conversation{ZID: 3, ConversationID: "other", Owner: testOwner})
	h.whitelisted = store.addConversation(conversation.Conversation{ZID: 4, ConversationID: "wl", Owner: testOwner, UseXIDWhitelist: true})
	h.gated = store.addConversation(conversation.Conversation{ZID: 5, ConversationID: "gated", Owner: testOwner, InviteGated: true})

	convs := NewConversationService(memConversations{store}, cfg.cache, nil)
	h.resolver = NewResolver(ResolverDeps{
		Conversations: convs,
		Verifier:      verifier,
		Issuer:        cfg.issuer,
		Mapper:        NewIdentityMapper(memUsers{store}, testPolicy(), time.Second, nil),
		Participants:  NewParticipantService(memParticipants{store}, convs, testPolicy(), time.Second, nil),
		XIDs:          NewXIDService(memXIDs{store}, testPolicy(), time.Second, nil),
		Legacy:        NewLegacyBridge(memCookies{store}),
		Users:         memUsers{store},
	})
	return h
}

func (h *harness) resolve(t *testing.T, req ResolveRequest) Resolution {
	t.Helper()
	res, err := h.resolver.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve(%+v) error = %v", req, err)
	}
	return res
}

// verifyAuth checks a minted token and returns its claims.
func (h *harness) verifyAuth(t *testing.T, res Resolution) *token.Claims {
	t.Helper()
	if res.Auth == nil {
		t.Fatalf("expected a token to be issued")
	}
	v, err := h.verifier.Verify(context.Background(), res.Auth.Token)
	if err != nil {
		t.Fatalf("Verify(issued) error = %v", err)
	}
	if v.Claims.UID != res.Identity.UID || v.Claims.PID != res.Identity.PID || v.Claims.ConversationID != res.Identity.ConversationID {
		t.Fatalf("token claims %+v disagree with identity %+v", v.Claims, res.Identity)
	}
	return v.Claims
}

func (h *harness) federatedToken(t *testing.T, subject, email, name string) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, token.FederatedClaims{
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    idpIssuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{idpAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	tok.Header["kid"] = "idp-1"
	signed, err := tok.SignedString(h.idpKey)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func TestResolveFreshAnonymous(t *testing.T) {
	h := newHarness(t)
	res := h.resolve(t, ResolveRequest{ConversationID: "demo"})

	if res.Identity.UID != 1 || res.Identity.PID != 0 {
		t.Fatalf("identity = %+v, want uid=1 pid=0", res.Identity)
	}
	if res.Identity.Kind != token.KindAnonymous || !res.Identity.Created || res.Reason != IssueCreated {
		t.Fatalf("unexpected resolution %+v", res)
	}
	claims := h.verifyAuth(t, res)
	if claims.ConversationID != "demo" || claims.Subject != "anon:1" || !claims.AnonymousParticipant {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if got := h.store.participantCount(h.demo.ZID); got != 1 {
		t.Fatalf("participants = %d, want 1", got)
	}
}

func TestResolveSameConversationTokenIsNotReissued(t *testing.T) {
	h := newHarness(t)
	first := h.resolve(t, ResolveRequest{ConversationID: "demo"})

	again := h.resolve(t, ResolveRequest{ConversationID: "demo", BearerToken: first.Auth.Token, XID: "ignored", LegacyCookie: "ignored"})
	if again.Auth != nil || again.Reason != IssueNone {
		t.Fatalf("valid same-conversation token must not be reissued: %+v", again)
	}
	if again.Identity.UID != first.Identity.UID || again.Identity.PID != first.Identity.PID || again.Identity.Created {
		t.Fatalf("identity changed: %+v vs %+v", again.Identity, first.Identity)
	}
	if h.store.userCount() != 1 || h.store.xidCount() != 0 {
		t.Fatalf("no records may be written for a same-conversation token")
	}
}

func TestResolveCrossConversationAnonymousIsNotPortable(t *testing.T) {
	h := newHarness(t)
	h.resolve(t, ResolveRequest{ConversationID: "demo"})
	inA := h.resolve(t, ResolveRequest{ConversationID: "demo"})
	if inA.Identity.PID != 1 {
		t.Fatalf("setup: pid in A = %d, want 1", inA.Identity.PID)
	}

	inB := h.resolve(t, ResolveRequest{ConversationID: "other", BearerToken: inA.Auth.Token})
	if inB.Identity.UID == inA.Identity.UID || inB.Identity.PID == inA.Identity.PID {
		t.Fatalf("anonymous identity carried across conversations: A=%+v B=%+v", inA.Identity, inB.Identity)
	}
	claims := h.verifyAuth(t, inB)
	if claims.ConversationID != "other" || !claims.AnonymousParticipant {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestResolveWhitelistRejection(t *testing.T) {
	h := newHarness(t)
	_, err := h.resolver.Resolve(context.Background(), ResolveRequest{ConversationID: "wl", XID: "ext-1"})
	if !errors.Is(err, parley_errors.ErrNotWhitelisted) {
		t.Fatalf("Resolve() error = %v, want ErrNotWhitelisted", err)
	}
	if HTTPStatus(err) != 401 || ErrorCode(err) != "XID_NOT_WHITELISTED" {
		t.Fatalf("mapped to %d %s", HTTPStatus(err), ErrorCode(err))
	}
	if h.store.userCount() != 0 || h.store.xidCount() != 0 {
		t.Fatalf("rejected xid must not create users")
	}

	h.store.allowXID(testOwner, "ext-1")
	res := h.resolve(t, ResolveRequest{ConversationID: "wl", XID: "ext-1"})
	claims := h.verifyAuth(t, res)
	if claims.Subject != "xid:ext-1" || res.Identity.Kind != token.KindXID {
		t.Fatalf("unexpected xid resolution %+v / %+v", res.Identity, claims)
	}
}

func TestResolveConcurrentXIDCreation(t *testing.T) {
	h := newHarness(t)
	const n = 8
	results := make([]Resolution, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := h.resolver.Resolve(context.Background(), ResolveRequest{ConversationID: "c1", XID: "ext-2"})
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if h.store.userCount() != 1 || h.store.xidCount() != 1 {
		t.Fatalf("users = %d xids = %d, want 1 and 1", h.store.userCount(), h.store.xidCount())
	}
	if got := h.store.participantCount(h.c1.ZID); got != 1 {
		t.Fatalf("participants = %d, want 1", got)
	}
	for _, res := range results {
		if res.Identity.UID != results[0].Identity.UID || res.Identity.PID != results[0].Identity.PID {
			t.Fatalf("requests disagree: %+v vs %+v", res.Identity, results[0].Identity)
		}
		if res.Auth == nil {
			t.Fatalf("every xid request without a token should receive one")
		}
	}
}

func TestResolveExistingXIDIssuesFirstToken(t *testing.T) {
	h := newHarness(t)
	created := h.resolve(t, ResolveRequest{ConversationID: "c1", XID: "ext-7"})
	if created.Reason != IssueCreated {
		t.Fatalf("first resolution reason = %s", created.Reason)
	}

	again := h.resolve(t, ResolveRequest{ConversationID: "c1", XID: "ext-7"})
	if again.Identity.UID != created.Identity.UID || again.Identity.PID != created.Identity.PID {
		t.Fatalf("xid resolved to a different participant")
	}
	if again.Identity.Created || again.Reason != IssueFirstToken {
		t.Fatalf("unexpected resolution %+v", again)
	}
	h.verifyAuth(t, again)
}

func TestResolveOwnerWideXIDRecord(t *testing.T) {
	h := newHarness(t)
	h.store.mu.Lock()
	uid := h.store.newUserLocked("")
	h.store.xids = append(h.store.xids, userXID(testOwner, "ext-wide", uid))
	h.store.mu.Unlock()

	res := h.resolve(t, ResolveRequest{ConversationID: "wl", XID: "ext-wide"})
	if res.Identity.UID != uid {
		t.Fatalf("owner-wide record ignored: uid %d, want %d", res.Identity.UID, uid)
	}
}

func TestResolveCrossConversationSameXIDReusesRecord(t *testing.T) {
	h := newHarness(t)
	earlier := h.resolve(t, ResolveRequest{ConversationID: "c1", XID: "ext-3"})
	inDemo := h.resolve(t, ResolveRequest{ConversationID: "demo", XID: "ext-3"})

	back := h.resolve(t, ResolveRequest{ConversationID: "c1", XID: "ext-3", BearerToken: inDemo.Auth.Token})
	if back.Identity.UID != earlier.Identity.UID || back.Identity.PID != earlier.Identity.PID {
		t.Fatalf("earlier c1 record not reused: %+v vs %+v", back.Identity, earlier.Identity)
	}
	if back.Reason != IssueMismatch || back.Identity.Created {
		t.Fatalf("unexpected resolution %+v", back)
	}
	claims := h.verifyAuth(t, back)
	if claims.ConversationID != "c1" || claims.XID != "ext-3" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestResolveMismatchedXIDUsesRequestXID(t *testing.T) {
	h := newHarness(t)
	tokenFor4 := h.resolve(t, ResolveRequest{ConversationID: "demo", XID: "ext-4"})

	for _, conv := range []string{"demo", "c1"} {
		t.Run(conv, func(t *testing.T) {
			res := h.resolve(t, ResolveRequest{ConversationID: conv, XID: "ext-5", BearerToken: tokenFor4.Auth.Token})
			if res.Identity.UID == tokenFor4.Identity.UID {
				t.Fatalf("stale token identity was kept")
			}
			if res.Identity.XID != "ext-5" || res.Identity.Kind != token.KindXID {
				t.Fatalf("unexpected identity %+v", res.Identity)
			}
			claims := h.verifyAuth(t, res)
			if claims.Subject != "xid:ext-5" {
				t.Fatalf("subject = %q", claims.Subject)
			}
		})
	}
}

func TestResolveCrossConversationXIDTokenWithoutRequestXID(t *testing.T) {
	h := newHarness(t)
	xidTok := h.resolve(t, ResolveRequest{ConversationID: "demo", XID: "ext-6"})
	uid := xidTok.Identity.UID

	// uid already participates in c1
	p := h.store.addParticipant(h.c1.ZID, uid)
	res := h.resolve(t, ResolveRequest{ConversationID: "c1", BearerToken: xidTok.Auth.Token})
	if res.Identity.UID != uid || res.Identity.PID != p.PID {
		t.Fatalf("existing c1 participant not reused: %+v", res.Identity)
	}
	if res.Identity.Kind != token.KindAnonymous || res.Identity.XID != "" {
		t.Fatalf("xid must be dropped: %+v", res.Identity)
	}
	claims := h.verifyAuth(t, res)
	if !claims.AnonymousParticipant || claims.ConversationID != "c1" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	// no participant in other: fresh anonymous identity
	fresh := h.resolve(t, ResolveRequest{ConversationID: "other", BearerToken: xidTok.Auth.Token})
	if fresh.Identity.UID == uid || !fresh.Identity.Created || fresh.Identity.Kind != token.KindAnonymous {
		t.Fatalf("expected fresh anonymous identity, got %+v", fresh.Identity)
	}
}

func TestResolveFederatedAndStandardUserTokens(t *testing.T) {
	h := newHarness(t)
	fed := h.federatedToken(t, "idp|ada", "Ada@Example.com", "Ada")

	first := h.resolve(t, ResolveRequest{ConversationID: "demo", BearerToken: fed, XID: "ext-ignored"})
	if first.Identity.Kind != token.KindStandardUser || first.Identity.OIDCSubject != "idp|ada" || !first.Identity.Created {
		t.Fatalf("unexpected identity %+v", first.Identity)
	}
	if h.store.xidCount() != 0 {
		t.Fatalf("federated identity takes precedence over xid")
	}
	claims := h.verifyAuth(t, first)
	if claims.Subject != "user:idp|ada" || !claims.StandardUserParticipant {
		t.Fatalf("unexpected claims %+v", claims)
	}

	repeat := h.resolve(t, ResolveRequest{ConversationID: "demo", BearerToken: fed})
	if repeat.Auth != nil || repeat.Identity.UID != first.Identity.UID || repeat.Identity.PID != first.Identity.PID {
		t.Fatalf("returning federated participant: %+v", repeat)
	}

	same := h.resolve(t, ResolveRequest{ConversationID: "demo", BearerToken: first.Auth.Token})
	if same.Auth != nil || same.Identity.UID != first.Identity.UID {
		t.Fatalf("same-conversation standard token: %+v", same)
	}

	cross := h.resolve(t, ResolveRequest{ConversationID: "other", BearerToken: first.Auth.Token})
	if cross.Identity.UID != first.Identity.UID {
		t.Fatalf("standard user must keep uid across conversations")
	}
	crossClaims := h.verifyAuth(t, cross)
	if crossClaims.ConversationID != "other" || crossClaims.OIDCSubject != "idp|ada" {
		t.Fatalf("unexpected claims %+v", crossClaims)
	}
	if h.store.mappingCount() != 1 || h.store.userCount() != 1 {
		t.Fatalf("mappings = %d users = %d", h.store.mappingCount(), h.store.userCount())
	}
}

func TestResolveFederatedMissingEmail(t *testing.T) {
	h := newHarness(t)
	fed := h.federatedToken(t, "idp|noemail", "", "Nobody")
	_, err := h.resolver.Resolve(context.Background(), ResolveRequest{ConversationID: "demo", BearerToken: fed})
	if !errors.Is(err, parley_errors.ErrMissingClaim) || HTTPStatus(err) != 400 {
		t.Fatalf("Resolve() error = %v (status %d), want ErrMissingClaim/400", err, HTTPStatus(err))
	}
	if h.store.userCount() != 0 {
		t.Fatalf("no user may be created without email")
	}
}

func TestResolveLegacyCookie(t *testing.T) {
	h := newHarness(t)
	h.store.addCookie(conversation.LegacyCookie{ZID: h.demo.ZID, Cookie: "abc", UID: 77, PID: 5})

	res := h.resolve(t, ResolveRequest{ConversationID: "demo", LegacyCookie: "abc"})
	if res.Identity.UID != 77 || res.Identity.PID != 5 || res.Reason != IssueLegacy || res.Identity.Created {
		t.Fatalf("unexpected legacy resolution %+v", res)
	}
	if claims := h.verifyAuth(t, res); !claims.AnonymousParticipant {
		t.Fatalf("expected anonymous token, got %+v", claims)
	}

	withXID := h.resolve(t, ResolveRequest{ConversationID: "demo", LegacyCookie: "abc", XID: "ext-l"})
	if claims := h.verifyAuth(t, withXID); !claims.XIDParticipant || claims.XID != "ext-l" {
		t.Fatalf("request xid must be preserved: %+v", claims)
	}

	if h.store.userCount() != 0 {
		t.Fatalf("legacy bridge must not create users")
	}

	miss := h.resolve(t, ResolveRequest{ConversationID: "demo", LegacyCookie: "unknown"})
	if miss.Reason != IssueCreated || miss.Identity.UID == 77 {
		t.Fatalf("cookie miss should fall through to a fresh participant: %+v", miss)
	}
}

func TestResolveLegacyCookieAfterCrossConversationToken(t *testing.T) {
	h := newHarness(t)
	h.store.addCookie(conversation.LegacyCookie{ZID: h.demo.ZID, Cookie: "abc", UID: 77, PID: 5})
	foreign := h.resolve(t, ResolveRequest{ConversationID: "other"})

	res := h.resolve(t, ResolveRequest{ConversationID: "demo", BearerToken: foreign.Auth.Token, LegacyCookie: "abc"})
	if res.Identity.UID != 77 || res.Reason != IssueLegacy {
		t.Fatalf("cookie should resolve once the token is discarded: %+v", res)
	}

	same := h.resolve(t, ResolveRequest{ConversationID: "other", BearerToken: foreign.Auth.Token, LegacyCookie: "abc"})
	if same.Identity.UID != foreign.Identity.UID || same.Auth != nil {
		t.Fatalf("valid same-conversation token wins over the cookie: %+v", same)
	}
}

func TestResolveGatedConversation(t *testing.T) {
	h := newHarness(t)

	for _, req := range []ResolveRequest{
		{ConversationID: "gated"},
		{ConversationID: "gated", XID: "ext-g"},
	} {
		_, err := h.resolver.Resolve(context.Background(), req)
		if !errors.Is(err, parley_errors.ErrParticipationGated) {
			t.Fatalf("Resolve(%+v) error = %v, want ErrParticipationGated", req, err)
		}
		if ErrorCode(err) != "INVITE_REQUIRED" || HTTPStatus(err) != 401 {
			t.Fatalf("mapped to %d %s", HTTPStatus(err), ErrorCode(err))
		}
	}
	_, err := h.resolver.Resolve(context.Background(), ResolveRequest{
		ConversationID: "gated",
		BearerToken:    h.federatedToken(t, "idp|gated", "gated@example.com", "Gated"),
	})
	if !errors.Is(err, parley_errors.ErrParticipationGated) {
		t.Fatalf("federated Resolve() error = %v, want ErrParticipationGated", err)
	}
	if h.store.userCount() != 0 || h.store.mappingCount() != 0 {
		t.Fatalf("gated conversation left %d orphan users and %d mappings", h.store.userCount(), h.store.mappingCount())
	}

	// a mapped federated user who already participates passes the gate
	h.store.mu.Lock()
	fedUID := h.store.newUserLocked("member@example.com")
	h.store.oidc["idp|member"] = fedUID
	h.store.mu.Unlock()
	fedP := h.store.addParticipant(h.gated.ZID, fedUID)
	fed := h.resolve(t, ResolveRequest{
		ConversationID: "gated",
		BearerToken:    h.federatedToken(t, "idp|member", "member@example.com", "Member"),
	})
	if fed.Identity.UID != fedUID || fed.Identity.PID != fedP.PID {
		t.Fatalf("federated participant of gated conversation resolved to %+v", fed.Identity)
	}

	// existing participants keep working
	h.store.mu.Lock()
	uid := h.store.newUserLocked("")
	h.store.mu.Unlock()
	p := h.store.addParticipant(h.gated.ZID, uid)
	h.store.addCookie(conversation.LegacyCookie{ZID: h.gated.ZID, Cookie: "old", UID: uid, PID: p.PID})
	res := h.resolve(t, ResolveRequest{ConversationID: "gated", LegacyCookie: "old"})
	if res.Identity.UID != uid {
		t.Fatalf("existing participant rejected by gate")
	}
	if same := h.resolve(t, ResolveRequest{ConversationID: "gated", BearerToken: res.Auth.Token}); same.Identity.PID != p.PID {
		t.Fatalf("token for gated conversation not honoured")
	}
}

type failingIssuer struct{}

func (failingIssuer) Issue(token.Kind, string, int64, int64, string) (token.Issued, error) {
	return token.Issued{}, keys.ErrSigningKeyUnavailable
}

func TestResolveContinuesWhenSigningFails(t *testing.T) {
	h := newHarness(t, withIssuer(failingIssuer{}))
	res := h.resolve(t, ResolveRequest{ConversationID: "demo"})
	if res.Auth != nil {
		t.Fatalf("expected no token when signing fails")
	}
	if res.Identity.UID != 1 || res.Identity.PID != 0 || res.Reason != IssueCreated {
		t.Fatalf("identity must still resolve: %+v", res)
	}
}

func TestResolveErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		req    ResolveRequest
		status int
		code   string
	}{
		{"missing conversation id", ResolveRequest{}, 400, "INVALID_REQUEST"},
		{"unknown conversation", ResolveRequest{ConversationID: "nope"}, 404, "CONVERSATION_NOT_FOUND"},
		{"malformed token", ResolveRequest{ConversationID: "demo", BearerToken: "not-a-jwt"}, 401, "INVALID_TOKEN"},
		{"xid too long", ResolveRequest{ConversationID: "demo", XID: fmt.Sprintf("%0300d", 1)}, 400, "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.resolver.Resolve(ctx, tc.req)
			if err == nil {
				t.Fatalf("expected error")
			}
			if HTTPStatus(err) != tc.status || ErrorCode(err) != tc.code {
				t.Fatalf("mapped to %d %s, want %d %s (err %v)", HTTPStatus(err), ErrorCode(err), tc.status, tc.code, err)
			}
		})
	}

	if h.store.userCount() != 0 {
		t.Fatalf("failed requests must not create users")
	}
}

func TestResolveTamperedTokenRejected(t *testing.T) {
	h := newHarness(t)
	other := newHarness(t)
	foreign := other.resolve(t, ResolveRequest{ConversationID: "demo"})

	_, err := h.resolver.Resolve(context.Background(), ResolveRequest{ConversationID: "demo", BearerToken: foreign.Auth.Token})
	if !errors.Is(err, parley_errors.ErrInvalidToken) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidToken", err)
	}
}

func TestResolveConcurrentAnonymousDensePIDs(t *testing.T) {
	h := newHarness(t)
	const n = 20
	var mu sync.Mutex
	seen := map[int64]bool{}

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := h.resolver.Resolve(context.Background(), ResolveRequest{ConversationID: "demo"})
			if err != nil {
				return err
			}
			mu.Lock()
			seen[res.Identity.PID] = true
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for pid := int64(0); pid < n; pid++ {
		if !seen[pid] {
			t.Fatalf("pid %d missing from %v", pid, seen)
		}
	}
}

func TestResolveRefreshesCachedConversation(t *testing.T) {
	cache := &fakeConversationCache{entries: map[string]conversation.Conversation{}}
	h := newHarness(t, withConversationCache(cache))
	ctx := context.Background()

	first := h.resolve(t, ResolveRequest{ConversationID: "demo"})
	if cache.invalidations != 1 {
		t.Fatalf("invalidations = %d after a new participant, want 1", cache.invalidations)
	}
	convs := NewConversationService(memConversations{h.store}, cache, nil)
	conv, err := convs.GetByConversationID(ctx, "demo")
	if err != nil {
		t.Fatalf("GetByConversationID() error = %v", err)
	}
	if conv.ParticipantCount != 1 {
		t.Fatalf("participant_count = %d, want 1", conv.ParticipantCount)
	}

	// a returning participant leaves the cache alone
	h.resolve(t, ResolveRequest{ConversationID: "demo", BearerToken: first.Auth.Token})
	if cache.invalidations != 1 {
		t.Fatalf("invalidations = %d after a returning participant, want 1", cache.invalidations)
	}

	// whitelist enabled after the row was cached still applies to new xids
	if _, err := convs.GetByConversationID(ctx, "demo"); err != nil {
		t.Fatalf("GetByConversationID() error = %v", err)
	}
	h.store.mu.Lock()
	c := h.store.convs["demo"]
	c.UseXIDWhitelist = true
	h.store.convs["demo"] = c
	h.store.mu.Unlock()

	_, err = h.resolver.Resolve(ctx, ResolveRequest{ConversationID: "demo", XID: "not-listed"})
	if !errors.Is(err, parley_errors.ErrNotWhitelisted) {
		t.Fatalf("Resolve() error = %v, want ErrNotWhitelisted", err)
	}
}

