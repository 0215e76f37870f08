package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"parley/config"
	"parley/internal/handler"
	"parley/internal/keys"
	"parley/internal/redis"
	"parley/internal/repository"
	"parley/internal/retry"
	"parley/internal/server"
	"parley/internal/services"
	"parley/internal/token"
	"parley/pkg/database"
	"parley/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	mode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	defer l.Sync()
	logger.SetGlobalLogger(l)

	ctx := context.Background()

	pool, err := database.Connect(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := redis.Ping(ctx, rdb); err != nil {
		// cache and rate limiter fail open
		l.Warnf("redis unreachable at startup: %v", err)
	}

	provider, err := loadKeys(cfg, l)
	if err != nil {
		log.Fatalf("Failed to load signing key: %v", err)
	}

	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}

	users := repository.NewUserRepository(pool)
	conversations := services.NewConversationService(
		repository.NewConversationRepository(pool),
		redis.NewCacheStore(rdb, redis.CacheConfig{ConversationTTL: cfg.ConversationCacheTTL}),
		l,
	)

	resolver := services.NewResolver(services.ResolverDeps{
		Conversations: conversations,
		Verifier: token.NewVerifier(provider, cfg.TokenIssuer, cfg.TokenAudience, token.FederatedOptions{
			Issuer:   cfg.OIDCIssuer,
			Audience: cfg.OIDCAudience,
		}),
		Issuer:       token.NewIssuer(provider, cfg.TokenIssuer, cfg.TokenAudience, cfg.TokenTTL),
		Mapper:       services.NewIdentityMapper(users, policy, cfg.RetryAfter, l),
		Participants: services.NewParticipantService(repository.NewParticipantRepository(pool), conversations, policy, cfg.RetryAfter, l),
		XIDs:         services.NewXIDService(repository.NewXIDRepository(pool), policy, cfg.RetryAfter, l),
		Legacy:       services.NewLegacyBridge(repository.NewLegacyCookieRepository(pool)),
		Users:        users,
		Logger:       l,
	})

	limiter := redis.NewRateLimiter(rdb, redis.RateLimitConfig{
		ParticipationLimit:  cfg.ParticipationRateLimit,
		ParticipationWindow: cfg.ParticipationWindow,
	})

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Participation: handler.NewParticipationHandler(conversations),
		Keys:          handler.NewKeysHandler(provider),
	}, server.Dependencies{
		Resolver: resolver,
		Limiter:  limiter,
		Health: func(ctx context.Context) error {
			return database.HealthCheck(ctx, pool)
		},
	})

	if err := srv.Start(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}

// loadKeys builds the key provider. Outside release mode a missing signing key
// is replaced by an ephemeral one, so tokens do not survive a restart.
func loadKeys(cfg *config.Config, l *logger.Logger) (*keys.Provider, error) {
	signingKey, err := keys.LoadSigningKey(cfg.SigningKeyPath, cfg.SigningKeyPEM)
	if err != nil {
		return nil, err
	}
	if signingKey == nil {
		if cfg.AppMode == server.ReleaseMode {
			l.Warnf("no signing key configured: participant tokens will not be issued")
		} else {
			signingKey, err = keys.GenerateSigningKey()
			if err != nil {
				return nil, err
			}
			l.Warnf("no signing key configured: using an ephemeral development key")
		}
	}

	var federated keys.KeySet
	if cfg.OIDCEnabled() {
		federated = keys.NewRemoteKeySet(cfg.OIDCJWKSURL, cfg.OIDCJWKSTTL, &http.Client{Timeout: 10 * time.Second})
		l.Infof("federated tokens accepted from %s", cfg.OIDCIssuer)
	}

	return keys.NewProvider(signingKey, cfg.SigningKeyID, federated), nil
}
