package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"attendance-portal/internal/attendance"
	"attendance-portal/internal/auth"
	"attendance-portal/internal/config"
	"attendance-portal/internal/directory"
	"attendance-portal/internal/handler"
	"attendance-portal/internal/httpmiddleware"
	"attendance-portal/internal/identity"
	"attendance-portal/internal/lock"
	"attendance-portal/internal/logging"
	"attendance-portal/internal/marks"
	"attendance-portal/internal/migrations"
	"attendance-portal/internal/notification"
	"attendance-portal/internal/queue"
	"attendance-portal/internal/store"
)

// inboxQueueKey is the Redis list the API publishes notification events to
// and the worker drains.
const inboxQueueKey = "portal:inbox-events"

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Production(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if cfg.MigrateOnStart {
		if err := migrations.Up(ctx, db.Client); err != nil {
			return err
		}
	}

	rdb, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	var guard lock.Guard = lock.NewLocal(cfg.SaveGuardTTL)
	if cfg.GuardBackend == "redis" {
		guard = lock.NewRedis(rdb.Client, "portal:guard:", cfg.SaveGuardTTL)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(rdb.Client, inboxQueueKey)
	}

	dir := directory.NewRepository(db.Client)
	var users notification.UserResolver = dir
	if cfg.IdentityServiceURL != "" {
		idc := identity.New(cfg.IdentityServiceURL, cfg.IdentityTimeout)
		if err := idc.Health(ctx); err != nil {
			logger.Warn("identity service not reachable", zap.String("url", cfg.IdentityServiceURL), zap.Error(err))
		}
		users = idc
	}

	records := attendance.NewRepository(db.Client)
	inbox := notification.NewRepository(db.Client)
	counter := notification.NewRedisCounter(rdb.Client, 0)

	workflow := notification.NewWorkflow(inbox, records, users, logger.Named("notification")).
		WithSubjects(dir).
		WithQueue(q).
		WithCounter(counter).
		WithGuard(guard).
		WithOverlay(notification.NewOverlay(cfg.SettleDelay))
	att := attendance.NewService(records, dir, workflow, guard, logger.Named("attendance"))
	mk := marks.NewService(marks.NewRepository(db.Client), dir, logger.Named("marks"))

	if cfg.QueueBackend == "memory" {
		// nothing else can drain an in-process queue
		go func() {
			if err := notification.SyncCounters(ctx, q, inbox, counter, logger.Named("sync")); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("unread counter sync stopped", zap.Error(err))
			}
		}()
	}

	var limiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.GuardBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(rdb.Client, cfg.RateLimitPerMin)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db.Healthy(c.Request.Context())
		redisHealthy := rdb.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"db": dbHealthy, "redis": redisHealthy})
	})

	handler.New(att, workflow, mk, dir, logger.Named("http")).
		Register(r, auth.Authenticate(cfg.JWTSigningKey, cfg.JWTIssuer), httpmiddleware.RateLimit(limiter))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
