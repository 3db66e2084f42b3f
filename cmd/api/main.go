package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"scribe/api/internal/app"
	"scribe/api/internal/completion"
	"scribe/api/internal/config"
	"scribe/api/internal/export"
	"scribe/api/internal/history"
	"scribe/api/internal/logging"
	"scribe/api/internal/proxy"
	"scribe/api/internal/ratelimit"
	"scribe/api/internal/state"
	"scribe/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()
	ctx := context.Background()

	var redisClient *redis.Client
	var redisKV *state.RedisKV
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisKV, err = state.NewRedisKV(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisKV.Close()
		redisClient = redisKV.Client()
	}

	var kv state.KV
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		logger.Info("using postgres for profile state", zap.Strings("migrations", applied))
		kv = store.NewPostgresKV(db)
	case redisKV != nil:
		logger.Info("using redis for profile state")
		kv = redisKV
	default:
		logger.Warn("no DATABASE_URL or REDIS_URL set, profile state is kept in memory")
		kv = state.NewMemoryKV()
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		logger.Fatal("failed to create history dir", zap.Error(err))
	}

	proxyHandler := proxy.NewHandler(
		newLimiter(cfg, redisClient, logger),
		proxy.NewOpenAIUpstream(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ProxyModel, cfg.ProxyChat, nil),
		cfg.TrustProxyHeaders,
		logger.Named("proxy"),
	)
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set, proxied completions will fail")
	}

	var proxyEndpoint completion.Endpoint = proxy.NewEndpoint(proxyHandler)
	if strings.TrimSpace(cfg.ProxyURL) != "" {
		remote, err := completion.NewProxyEndpoint(cfg.ProxyURL, nil)
		if err != nil {
			logger.Fatal("invalid proxy url", zap.Error(err))
		}
		logger.Info("sending proxied completions to remote proxy", zap.String("url", cfg.ProxyURL))
		proxyEndpoint = remote
	}
	deps := app.Deps{
		KV:      kv,
		Proxy:   proxyEndpoint,
		Direct:  completion.NewOpenAIEndpoint(cfg.OpenAIBaseURL, cfg.CompletionModel, cfg.ChatCompletions, nil),
		History: history.New(cfg.HistoryDir),
		Logger:  logger,
	}
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		bucket, err := export.NewBucket(export.BucketConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			LinkTTL:   cfg.PresignTTL,
		})
		if err != nil {
			logger.Fatal("export bucket setup failed", zap.Error(err))
		}
		if err := bucket.EnsureBucket(ctx); err != nil {
			logger.Warn("export bucket unavailable, uploads will fail until it exists", zap.Error(err))
		}
		deps.Bucket = bucket
	}
	service := app.New(cfg, deps)

	httpServer := app.NewHTTPServer(service, proxyHandler, cfg.CORSOrigin, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("scribe API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := service.Flush(shutdownCtx); err != nil {
		logger.Error("failed to flush documents", zap.Error(err))
	}
}

func newLimiter(cfg config.Config, client *redis.Client, logger *zap.Logger) ratelimit.Limiter {
	if client == nil {
		logger.Warn("no REDIS_URL set, /api/complete is not rate limited")
		return ratelimit.Unlimited{}
	}
	var (
		limiter ratelimit.Limiter
		err     error
	)
	switch cfg.RateLimitPolicy {
	case ratelimit.PolicySliding:
		limiter, err = ratelimit.NewSlidingWindow(client, cfg.RateLimitRequests, cfg.RateLimitWindow)
	default:
		limiter, err = ratelimit.NewFixedWindow(client, cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	if err != nil {
		logger.Fatal("invalid rate limit configuration", zap.Error(err))
	}
	logger.Info("rate limiting /api/complete",
		zap.String("policy", cfg.RateLimitPolicy),
		zap.Int("requests", cfg.RateLimitRequests),
		zap.Duration("window", cfg.RateLimitWindow),
	)
	return limiter
}
