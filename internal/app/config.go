package app

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"trades-finder/internal/auth"
	"trades-finder/internal/mail"
	"trades-finder/internal/mapkit"
)

type Config struct {
	DatabaseURL string
	AppEnv      string
	Port        string
	BaseURL     string
	SentryDSN   string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	SessionTTL          time.Duration
	SessionCookieSecure bool
	VerifyTokenTTL      time.Duration
	ResetTokenTTL       time.Duration

	RateLimitMax    int
	RateLimitWindow time.Duration
	RedisURL        string

	KafkaBrokers []string
	KafkaTopic   string

	SMTP       mail.Config
	AdminEmail string

	CronSecret       string
	CleanupBatchSize int

	MapKit        mapkit.Config
	MapKitBaseURL string
}

// LoadConfig reads settings from the environment. Only DATABASE_URL and
// the MapKit signing material are required; everything else has a default.
func LoadConfig() (Config, error) {
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}

	privateKey, err := mapKitPrivateKey()
	if err != nil {
		return Config{}, err
	}

	port := envOrDefault("PORT", "8080")

	cfg := Config{
		DatabaseURL: databaseURL,
		AppEnv:      envOrDefault("APP_ENV", "development"),
		Port:        port,
		BaseURL:     strings.TrimRight(envOrDefault("APP_BASE_URL", "http://localhost:"+port), "/"),
		SentryDSN:   strings.TrimSpace(os.Getenv("SENTRY_DSN")),

		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),

		SessionTTL:          envHoursOrDefault("SESSION_TTL_HOURS", 168),
		SessionCookieSecure: EnvBoolOrDefault("SESSION_COOKIE_SECURE", true),
		VerifyTokenTTL:      envHoursOrDefault("VERIFY_TOKEN_TTL_HOURS", 24),
		ResetTokenTTL:       envMinutesOrDefault("RESET_TOKEN_TTL_MINUTES", 60),

		RateLimitMax:    envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		RateLimitWindow: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),

		KafkaBrokers: envList("KAFKA_BROKERS"),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC_ACCOUNT_EVENTS", "account-events"),

		SMTP: mail.Config{
			Host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
			Port:     envIntOrDefault("SMTP_PORT", 587),
			Username: strings.TrimSpace(os.Getenv("SMTP_USER")),
			Password: os.Getenv("SMTP_PASS"),
			From:     envOrDefault("MAIL_FROM", "Trades Finder <no-reply@tradesfinder.local>"),
		},
		AdminEmail: strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),

		CronSecret:       os.Getenv("CRON_SECRET"),
		CleanupBatchSize: envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),

		MapKit: mapkit.Config{
			TeamID:         strings.TrimSpace(os.Getenv("MAPKIT_TEAM_ID")),
			KeyID:          strings.TrimSpace(os.Getenv("MAPKIT_KEY_ID")),
			PrivateKeyPEM:  privateKey,
			AllowedOrigins: envList("MAPKIT_ALLOWED_ORIGINS"),
			TokenTTL:       envMinutesOrDefault("MAPKIT_TOKEN_TTL_MINUTES", 10),
		},
		MapKitBaseURL: envOrDefault("MAPKIT_API_BASE_URL", mapkit.DefaultAPIBaseURL),
	}

	if cfg.ResetTokenTTL > auth.DefaultResetTokenTTL {
		return Config{}, fmt.Errorf("RESET_TOKEN_TTL_MINUTES must be at most %d", int(auth.DefaultResetTokenTTL.Minutes()))
	}
	if cfg.MapKit.TokenTTL < mapkit.MinTokenTTL || cfg.MapKit.TokenTTL > mapkit.MaxTokenTTL {
		return Config{}, fmt.Errorf("MAPKIT_TOKEN_TTL_MINUTES must be between %d and %d",
			int(mapkit.MinTokenTTL.Minutes()), int(mapkit.MaxTokenTTL.Minutes()))
	}

	return cfg, nil
}

// mapKitPrivateKey resolves the signing key from MAPKIT_PRIVATE_KEY_FILE,
// MAPKIT_PRIVATE_KEY_B64 or MAPKIT_PRIVATE_KEY, in that order. The PEM
// structure itself is checked later by mapkit.NewSigner.
func mapKitPrivateKey() (string, error) {
	if path := strings.TrimSpace(os.Getenv("MAPKIT_PRIVATE_KEY_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read MAPKIT_PRIVATE_KEY_FILE: %w", err)
		}
		return normalizePEM(string(raw)), nil
	}

	if encoded := strings.TrimSpace(os.Getenv("MAPKIT_PRIVATE_KEY_B64")); encoded != "" {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return "", fmt.Errorf("decode MAPKIT_PRIVATE_KEY_B64: %w", err)
		}
		return normalizePEM(string(raw)), nil
	}

	return normalizePEM(os.Getenv("MAPKIT_PRIVATE_KEY")), nil
}

func normalizePEM(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, `"`)
	value = strings.ReplaceAll(value, `\n`, "\n")
	return strings.TrimSpace(value)
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envList(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
