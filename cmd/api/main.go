package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kainulj/helsinki-citybike-analysis/config"
	"github.com/kainulj/helsinki-citybike-analysis/handlers"
	"github.com/kainulj/helsinki-citybike-analysis/middleware"
	"github.com/kainulj/helsinki-citybike-analysis/services"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.GetDSN()), &gorm.Config{})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	repo := services.NewForecastRepository(db)
	if err := repo.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// The API serves uncached without Redis.
	var cache *services.CacheService
	if cfg.Redis.Enabled {
		cache, err = services.NewCacheService(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("redis unavailable, responses will not be cached", "error", err)
		}
		defer cache.Close()
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), middleware.SetupCORS(cfg.CORS))
	handlers.RegisterRoutes(router,
		handlers.NewHealthHandler(repo, cache),
		handlers.NewRunHandler(repo, cache, logger),
		handlers.NewPredictionHandler(repo, cache, logger),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("starting server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
}
