package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	v1 "patchwatch/api/v1"
	"patchwatch/internal/auth"
	"patchwatch/internal/cache"
	"patchwatch/internal/config"
	"patchwatch/internal/db"
	"patchwatch/internal/session"
	"patchwatch/internal/settings"
	"patchwatch/internal/workers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if cfg.IsDevelopment() {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logger.WithField("component", "main")
	log.Info("Configuration loaded")

	// 2. Initialize PostgreSQL (retries inside; non-zero exit when the
	// database stays unreachable)
	if err := db.Init(&cfg.Database, log); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if cfg.Migrate {
		if err := db.Migrate(db.DB); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Info("Migrations applied")
	}

	// 3. Initialize Redis
	if cfg.Redis.Addr != "" {
		if err := cache.Init(&cfg.Redis, log); err != nil {
			log.Fatalf("Failed to initialize Redis: %v", err)
		}
		defer cache.Close()
	} else if cfg.RateLimit.Enabled {
		log.Warn("Rate limiting enabled but no Redis address configured; limiters fail open")
	}

	// 4. Services
	auth.InitJWT(cfg.JWT.Secret)

	sessions := session.NewManager(db.DB, session.Config{
		Issuer:                   cfg.JWT.Issuer,
		AccessExpireMinutes:      cfg.JWT.ExpireMinutes,
		RefreshExpireDays:        cfg.Session.RefreshExpireDays,
		InactivityTimeoutMinutes: cfg.Session.InactivityTimeoutMinutes,
	}, logger.WithField("component", "session"))
	settingsSvc := settings.NewService(db.DB)

	var cleaner *workers.SessionCleaner
	if cfg.SessionCleaner.Enabled {
		cleaner = workers.NewSessionCleaner(&workers.SessionCleanerConfig{
			Sessions:    sessions,
			Logger:      logrus.NewEntry(logger),
			IntervalSec: cfg.SessionCleaner.IntervalSec,
		})
		cleaner.Start()
	}

	// 5. HTTP server
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	v1.SetupRouter(r, &v1.Deps{
		DB:       db.DB,
		Redis:    cache.Client,
		Config:   cfg,
		Logger:   logrus.NewEntry(logger),
		Sessions: sessions,
		Settings: settingsSvc,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Infof("Server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// 6. Graceful shutdown: stop workers, drain in-flight requests,
	// close pools via the deferred closers.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	if cleaner != nil {
		cleaner.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Forced shutdown: %v", err)
	}
	log.Info("Server stopped")
}
