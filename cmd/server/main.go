package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/api"
	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/channel/memory"
	"github.com/adi-253/roomfeed/backend/internal/channel/redisbus"
	"github.com/adi-253/roomfeed/backend/internal/config"
	"github.com/adi-253/roomfeed/backend/internal/handlers"
	"github.com/adi-253/roomfeed/backend/internal/services"
	"github.com/adi-253/roomfeed/backend/internal/supabase"
	"github.com/adi-253/roomfeed/backend/internal/websocket"
)

// backend is a channel provider that can also reap stale presence.
type backend interface {
	channel.Provider
	channel.Reaper
}

func main() {
	// Load configuration from environment
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Pick the channel backend: Redis when configured, otherwise in-process
	var provider backend
	backendName := "memory"
	if cfg.RedisURL != "" {
		bus, err := redisbus.New(ctx, cfg.RedisURL, redisbus.WithLogger(logger))
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer bus.Close()
		provider = bus
		backendName = "redis"
		logger.Info().Msg("connected to Redis")
	} else {
		provider = memory.NewBroker(memory.WithLogger(logger))
		logger.Warn().Msg("REDIS_URL not set, using in-process channel broker")
	}

	// Initialize Supabase client
	db := supabase.NewClient(cfg, logger)

	// Initialize services
	roomService := services.NewRoomService(db, logger)
	activityService := services.NewActivityService(provider, cfg.HistoryLimit, logger)
	reaper := services.NewPresenceReaper(provider, cfg.ReapInterval, cfg.PresenceTimeout, logger)

	// Start background presence reaper
	go reaper.Start()
	defer reaper.Stop()

	// Channel gateway
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	router := api.NewRouter(logger, api.Deps{
		Rooms:       handlers.NewRoomHandler(roomService, logger),
		Activity:    handlers.NewActivityHandler(activityService, logger),
		Gateway:     websocket.NewHandler(hub, provider, cfg.ChannelKey, logger),
		Backend:     backendName,
		CORSOrigins: cfg.CORSOrigins,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.ServerPort).
			Str("env", cfg.Env).
			Str("backend", backendName).
			Strs("cors_origins", cfg.CORSOrigins).
			Msg("starting roomfeed server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Close gateway sockets before draining HTTP
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
