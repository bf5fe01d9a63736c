package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	mobilerag "github.com/lavandejoey/MobileRAG"
	"github.com/lavandejoey/MobileRAG/chat"
	"github.com/lavandejoey/MobileRAG/history"
	"github.com/lavandejoey/MobileRAG/llm"
	"github.com/lavandejoey/MobileRAG/rag"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	cfg, err := mobilerag.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("MOBILERAG_API_KEY")
	corsOrigins := os.Getenv("MOBILERAG_CORS_ORIGINS")

	hist, err := history.New(cfg.HistoryDir)
	if err != nil {
		slog.Error("opening history store", "error", err)
		os.Exit(1)
	}
	defer hist.Close()

	pipeline, err := rag.New(cfg)
	if err != nil {
		slog.Error("creating retrieval pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	provider, err := llm.NewProvider(llm.Config{
		Backend: cfg.Model.Backend,
		Model:   cfg.Model.ModelName,
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
		Think:   cfg.Model.Think,
	})
	if err != nil {
		slog.Error("creating model provider", "error", err)
		os.Exit(1)
	}

	orch := chat.New(hist, pipeline, provider, cfg)

	h := newHandler(hist, pipeline, orch)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/chats", h.handleListChats)
	mux.HandleFunc("GET /v1/chats/{id}/messages", h.handleGetMessages)
	mux.HandleFunc("DELETE /v1/chats/{id}", h.handleDeleteChat)
	mux.HandleFunc("POST /v1/index/build", h.handleIndexBuild)
	mux.HandleFunc("GET /v1/chat/ws", h.handleChatWS)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (generation can be long)
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
