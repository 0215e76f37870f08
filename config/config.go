package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort string
	AppMode string

	DatabaseURL string
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	TokenIssuer    string
	TokenAudience  string
	TokenTTL       time.Duration
	SigningKeyPath string
	SigningKeyPEM  string
	SigningKeyID   string

	OIDCIssuer   string
	OIDCAudience string
	OIDCJWKSURL  string
	OIDCJWKSTTL  time.Duration

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryAfter       time.Duration

	LegacyCookieName       string
	ConversationCacheTTL   time.Duration
	ParticipationRateLimit int
	ParticipationWindow    time.Duration
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort: getEnv("APP_PORT", "8080"),
		AppMode: getEnv("APP_MODE", "debug"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "parley"),
		DBPort:      getEnv("DB_PORT", "5432"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		TokenIssuer:    getEnv("TOKEN_ISSUER", "https://parley.local/"),
		TokenAudience:  getEnv("TOKEN_AUDIENCE", "participants"),
		TokenTTL:       time.Duration(getEnvAsInt("TOKEN_TTL_HOURS", 24*365)) * time.Hour,
		SigningKeyPath: getEnv("SIGNING_KEY_PATH", ""),
		SigningKeyPEM:  getEnv("SIGNING_KEY_PEM", ""),
		SigningKeyID:   getEnv("SIGNING_KEY_ID", "parley-1"),

		OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
		OIDCAudience: getEnv("OIDC_AUDIENCE", ""),
		OIDCJWKSURL:  getEnv("OIDC_JWKS_URL", ""),
		OIDCJWKSTTL:  time.Duration(getEnvAsInt("OIDC_JWKS_TTL_MIN", 60)) * time.Minute,

		RetryMaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   time.Duration(getEnvAsInt("RETRY_BASE_DELAY_MS", 25)) * time.Millisecond,
		RetryMaxDelay:    time.Duration(getEnvAsInt("RETRY_MAX_DELAY_MS", 500)) * time.Millisecond,
		RetryAfter:       time.Duration(getEnvAsInt("RETRY_AFTER_SECONDS", 1)) * time.Second,

		LegacyCookieName:       getEnv("LEGACY_COOKIE_NAME", "pc"),
		ConversationCacheTTL:   time.Duration(getEnvAsInt("CONVERSATION_CACHE_TTL_SEC", 300)) * time.Second,
		ParticipationRateLimit: getEnvAsInt("PARTICIPATION_RATE_LIMIT", 30),
		ParticipationWindow:    time.Minute,
	}
}

// DSN returns DATABASE_URL when set, otherwise a URL assembled from the DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// OIDCEnabled reports whether federated tokens can be verified at all.
func (c *Config) OIDCEnabled() bool {
	return c.OIDCIssuer != "" && c.OIDCJWKSURL != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
