package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bookshelf/internal/ratelimit"
	"bookshelf/internal/util"
	"bookshelf/pkg/auth"
	"bookshelf/pkg/cache"
	"bookshelf/pkg/queue"
	"bookshelf/pkg/storage"
	"bookshelf/services/catalog/internal/app"
	"bookshelf/services/catalog/internal/config"
	"bookshelf/services/catalog/internal/googlebooks"
	"bookshelf/services/catalog/internal/security"
	"bookshelf/services/catalog/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	durations := mustDurations(cfg)

	var (
		pageCache    cache.Cache
		revoker      auth.TokenRevoker
		loginLimiter *ratelimit.FixedWindowLimiter
		warmQueue    *queue.RedisJobQueue
		alerter      *security.AuditAlerter
	)
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer client.Close()
		pageCache = cache.NewRedisCache(client)
		revoker = auth.NewRedisTokenRevoker(client)
		alerter, err = security.NewAuditAlerter(client, "bookshelf:alerts")
		if err != nil {
			log.Fatalf("failed to init security alerter: %v", err)
		}
		if cfg.LoginRateLimitPerMinute > 0 {
			loginLimiter, err = ratelimit.NewFixedWindowLimiter(client, "bookshelf:ratelimit:login", cfg.LoginRateLimitPerMinute, time.Minute)
			if err != nil {
				log.Fatalf("failed to init login limiter: %v", err)
			}
		}
		if cfg.MetadataWarmWorkers > 0 {
			warmQueue, err = queue.NewRedisJobQueue(client, queue.RedisQueueConfig{
				Stream: "bookshelf:metadata:warm",
				Group:  "catalog",
			})
			if err != nil {
				log.Fatalf("failed to init metadata warm queue: %v", err)
			}
		}
	} else {
		slog.Warn("redisAddr not set, using in-process cache and token revocation; login is not rate limited")
		pageCache = cache.NewMemoryCache()
		revoker = auth.NewMemoryTokenRevoker()
	}

	tokens, err := auth.NewTokenManager(auth.TokenOptions{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     durations["jwtLeeway"],
		AccessTTL:  durations["accessTokenTTL"],
		RefreshTTL: durations["refreshTokenTTL"],
		Revoker:    revoker,
	})
	if err != nil {
		log.Fatalf("failed to init token manager: %v", err)
	}

	metadata := googlebooks.NewClient(googlebooks.Config{
		BaseURL:     cfg.GoogleBooksURL,
		APIKey:      cfg.GoogleBooksAPIKey,
		Timeout:     durations["metadataTimeout"],
		TTL:         durations["metadataTTL"],
		NegativeTTL: durations["metadataNegativeTTL"],
		Cache:       pageCache,
	})

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	} else if cfg.MediaDir != "" {
		files, err := storage.NewFileStore(cfg.MediaDir, "/media")
		if err != nil {
			log.Fatalf("failed to init media dir: %v", err)
		}
		defer files.Close()
		objects = files
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Cache:       pageCache,
		Metadata:    metadata,
		Tokens:      tokens,
		Objects:     objects,
		ListTTL:     durations["listCacheTTL"],

		AllowAdminSignup: cfg.AllowAdminSignup,
	}
	if warmQueue != nil {
		appCfg.Warmer = warmQueue
		warmQueue.Start(ctx, cfg.MetadataWarmWorkers, metadata.Warm)
		slog.Info("metadata warm workers started", "workers", cfg.MetadataWarmWorkers)
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	httpServer, err := server.New(server.Config{
		App:            appCore,
		LoginLimiter:   loginLimiter,
		TrustedProxies: trusted,
		Alerter:        alerter,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MediaDir:       cfg.MediaDir,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("catalog server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

// mustDurations parses the optional duration settings. Zero means the
// component default.
func mustDurations(cfg config.FileConfig) map[string]time.Duration {
	raw := map[string]string{
		"jwtLeeway":           cfg.JWTLeeway,
		"accessTokenTTL":      cfg.AccessTokenTTL,
		"refreshTokenTTL":     cfg.RefreshTokenTTL,
		"metadataTimeout":     cfg.MetadataTimeout,
		"metadataTTL":         cfg.MetadataTTL,
		"metadataNegativeTTL": cfg.MetadataNegativeTTL,
		"listCacheTTL":        cfg.ListCacheTTL,
	}
	out := make(map[string]time.Duration, len(raw))
	for name, value := range raw {
		d, err := config.ParseDuration(name, value)
		if err != nil {
			log.Fatalf("failed to parse %s: %v", name, err)
		}
		out[name] = d
	}
	return out
}
