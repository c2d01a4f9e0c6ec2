package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"trades-finder/internal/auth"
	"trades-finder/internal/db"
	"trades-finder/internal/events"
	"trades-finder/internal/favorites"
	"trades-finder/internal/leads"
	"trades-finder/internal/mail"
	"trades-finder/internal/maintenance"
	"trades-finder/internal/mapkit"
	"trades-finder/internal/observability"
	"trades-finder/internal/places"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Port    string
	Close   func() error
}

type publisher interface {
	auth.EventPublisher
	Close() error
}

type handlers struct {
	auth      *auth.Handler
	sessions  *auth.SessionManager
	limiter   auth.RateLimiter
	mapkit    *mapkit.Handler
	places    *places.Handler
	favorites *favorites.Handler
	leads     *leads.Handler
	cleanup   *maintenance.CleanupHandler
	health    http.HandlerFunc
	logger    *observability.Logger
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	signer, err := mapkit.NewSigner(cfg.MapKit)
	if err != nil {
		return nil, fmt.Errorf("init mapkit signer: %w", err)
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var mailer auth.Mailer = mail.NewLogMailer(logger)
	if cfg.SMTP.Host != "" {
		smtpMailer, err := mail.NewSMTPMailer(cfg.SMTP)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init mailer: %w", err)
		}
		mailer = smtpMailer
	} else {
		logger.Warn("smtp_not_configured", map[string]any{"fallback": "log"})
	}

	var eventPublisher publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		eventPublisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	var redisClient *redis.Client
	var limiter auth.RateLimiter = auth.NewMemoryRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	if cfg.RedisURL != "" {
		redisClient, err = connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis_unavailable", map[string]any{"error": err.Error(), "fallback": "memory"})
		} else {
			limiter = auth.NewRedisRateLimiter(redisClient, "trades:ratelimit", cfg.RateLimitMax, cfg.RateLimitWindow)
		}
	}

	authRepo := auth.NewRepository(database)
	sessions := auth.NewSessionManager(authRepo, authRepo, auth.SessionConfig{
		TTL:          cfg.SessionTTL,
		CookieSecure: cfg.SessionCookieSecure,
	}).WithLogger(logger)
	tokens := auth.NewTokenIssuer(authRepo, cfg.VerifyTokenTTL, cfg.ResetTokenTTL)

	authService, err := auth.NewService(auth.ServiceDeps{
		Users:    authRepo,
		Hasher:   auth.NewPasswordHasher(auth.DefaultPasswordParams),
		Sessions: sessions,
		Tokens:   tokens,
		Mailer:   mailer,
		Events:   eventPublisher,
		Logger:   logger,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	outbound := &http.Client{Timeout: 15 * time.Second}
	accessCache := mapkit.NewAccessCache(signer, mapkit.NewTokenExchanger(cfg.MapKitBaseURL, outbound), logger)

	sqlxDB := sqlx.NewDb(database, "pgx")

	h := handlers{
		auth:      auth.NewHandler(authService, sessions, logger),
		sessions:  sessions,
		limiter:   limiter,
		mapkit:    mapkit.NewHandler(signer, logger),
		places:    places.NewHandler(places.NewClient(cfg.MapKitBaseURL, accessCache, outbound), logger),
		favorites: favorites.NewHandler(favorites.NewRepository(sqlxDB)),
		leads:     leads.NewHandler(leads.NewService(leads.NewRepository(sqlxDB), mailer, cfg.AdminEmail, logger)),
		cleanup:   maintenance.NewCleanupHandler(authRepo, logger, cfg.CronSecret, cfg.CleanupBatchSize),
		health:    healthHandler(database),
		logger:    logger,
	}

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, newRouter(h)))

	logger.Info("app_initialized", map[string]any{
		"env":             cfg.AppEnv,
		"mapkit_origins":  signer.Origins().Entries(),
		"kafka_enabled":   len(cfg.KafkaBrokers) > 0,
		"redis_enabled":   redisClient != nil,
		"migrations_run":  options.RunMigrations,
		"session_ttl_hrs": int(cfg.SessionTTL.Hours()),
	})

	return &Runtime{
		Handler: handler,
		Port:    cfg.Port,
		Close: func() error {
			observability.FlushSentry()
			var errs []error
			if err := eventPublisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close event publisher: %w", err))
			}
			if redisClient != nil {
				if err := redisClient.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close redis: %w", err))
				}
			}
			if err := database.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
			return errors.Join(errs...)
		},
	}, nil
}

func newRouter(h handlers) http.Handler {
	limited := func(scope string, fn http.HandlerFunc) http.Handler {
		return auth.RateLimitMiddleware(h.limiter, scope, h.logger, fn)
	}
	requireUser := func(fn http.HandlerFunc) http.Handler {
		return auth.Middleware(h.sessions, fn)
	}

	r := chi.NewRouter()

	r.Route("/api/auth", func(r chi.Router) {
		r.Method(http.MethodPost, "/register", limited("register", h.auth.Register))
		r.Method(http.MethodPost, "/login", limited("login", h.auth.Login))
		r.Method(http.MethodPost, "/forgot", limited("forgot", h.auth.Forgot))
		r.Method(http.MethodPost, "/reset", limited("reset", h.auth.Reset))
		r.Method(http.MethodPost, "/verify/resend", limited("resend", h.auth.ResendVerification))
		r.Post("/logout", h.auth.Logout)
		r.Method(http.MethodPost, "/logout-all", requireUser(h.auth.LogoutAll))
		r.Get("/me", h.auth.Me)
		r.Get("/verify", h.auth.Verify)
	})

	r.Get("/api/mapkit-token", h.mapkit.Token)
	r.Get("/api/places", h.places.Search)

	r.Method(http.MethodGet, "/api/favorites", requireUser(h.favorites.List))
	r.Method(http.MethodPost, "/api/favorites", requireUser(h.favorites.Create))
	r.Method(http.MethodDelete, "/api/favorites/{id}", requireUser(h.favorites.Delete))

	r.Post("/api/leads", h.leads.Create)

	r.Get("/internal/maintenance/cleanup", h.cleanup.Handle)
	r.Post("/internal/maintenance/cleanup", h.cleanup.Handle)
	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
