// MDCAT companion server: chat/quiz REST API and the live chat relay.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/mdcat/companion/internal/api"
	"github.com/mdcat/companion/internal/assistant"
	"github.com/mdcat/companion/internal/config"
	"github.com/mdcat/companion/internal/identity"
	"github.com/mdcat/companion/internal/middleware"
	"github.com/mdcat/companion/internal/relay"
	"github.com/mdcat/companion/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// The assistant is optional: without it the relay answers with error
	// frames and quiz feedback is unavailable.
	var answerer assistant.Answerer
	var feedback assistant.FeedbackWriter
	if cfg.AssistantAddr != "" {
		slog.Info("Attempting to connect to assistant service via gRPC", "address", cfg.AssistantAddr)
		acfg := assistant.DefaultConfig(cfg.AssistantAddr)
		acfg.RequestTimeout = cfg.AnswerTimeout
		client, err := assistant.NewClient(acfg, logger)
		if err != nil {
			slog.Warn("Failed to connect to assistant, AI features will be disabled", "error", err)
		} else {
			defer client.Close()
			answerer = client
			feedback = client
		}
	}
	if answerer == nil {
		slog.Info("AI features disabled (ASSISTANT_ADDR not set or connection failed)")
	}

	sm := relay.NewSessionManager()

	baseHandler := api.NewHandler(repo, sm, feedback, cfg.HistoryLimit)
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)
	wsHandler := relay.NewWebSocketHandler(repo, answerer, sm, relay.Options{
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		AnswerTimeout: cfg.AnswerTimeout,
		Logger:        logger,
	})

	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{strings.TrimRight(cfg.FrontendURL, "/")}
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(origins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware([]byte(cfg.Secret()), repo))

		api.NewAccountHandler(baseHandler).RegisterRoutes(r)
		api.NewChatHandler(baseHandler).RegisterRoutes(r)
		api.NewQuizHandler(baseHandler, cfg.AnswerTimeout).RegisterRoutes(r)

		r.Get("/ws/{chatId}", wsHandler.ServeHTTP)
	})

	// Websocket sessions are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...", "active_chats", sm.Count())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
