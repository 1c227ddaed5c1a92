package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guildcache/internal/config"
	"guildcache/internal/handlers"
	"guildcache/internal/ingest"
	"guildcache/internal/logging"
	"guildcache/internal/middleware"
	"guildcache/internal/store"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Setup structured logging
	logging.SetupLogger()

	slog.Info("Starting guildcache", slog.String("version", "1.0.0"))

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One store and one ingestion engine per guild; guilds share nothing
	stores := make(map[string]*store.Store)
	for _, guildID := range cfg.GuildIDs {
		st := store.New(cfg.RetentionWindow)
		stores[guildID] = st

		engine := ingest.NewEngine(guildID, st, cfg.RetentionWindow, cfg.PruneInterval)
		go func(guildID string, engine *ingest.Engine) {
			if err := engine.Run(ctx, cfg.DiscordBotToken); err != nil {
				// This guild stays dark; the process and other guilds continue
				slog.Error("Guild ingestion halted", "guild_id", guildID, "error", err)
			}
		}(guildID, engine)
	}

	// Setup HTTP server with middleware
	router := mux.NewRouter()

	// Add middleware
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.MetricsMiddleware)

	// Read API with rate limiting and optional bearer auth
	historyHandler := handlers.NewHistoryHandler(stores)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(middleware.APIRateLimitMiddleware())
	if cfg.JWTSecret != "" {
		apiRouter.Use(middleware.Auth(cfg.JWTSecret))
	}
	apiRouter.HandleFunc("/guilds/{guildID}/channels/{channelID}/messages", historyHandler.HandleChannelMessages).Methods("GET")
	apiRouter.HandleFunc("/guilds/{guildID}/threads", historyHandler.HandleForumThreads).Methods("GET")

	// System routes
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		slog.Info("Server starting", slog.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	// Cancel context to close gateway connections and stop sweepers
	cancel()

	// Shutdown server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited gracefully")
}
