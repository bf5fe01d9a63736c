package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lavandejoey/MobileRAG/chat"
	"github.com/lavandejoey/MobileRAG/history"
	"github.com/lavandejoey/MobileRAG/rag"
)

type handler struct {
	history  *history.Store
	pipeline *rag.Pipeline
	orch     *chat.Orchestrator
}

func newHandler(hist *history.Store, pipeline *rag.Pipeline, orch *chat.Orchestrator) *handler {
	return &handler{history: hist, pipeline: pipeline, orch: orch}
}

// GET /v1/chats?limit=N
func (h *handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	chats, err := h.history.ListChats(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		slog.Error("list chats error", "error", err)
		return
	}
	if chats == nil {
		chats = []history.ChatRow{}
	}
	writeJSON(w, http.StatusOK, chats)
}

// GET /v1/chats/{id}/messages?limit=N
func (h *handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	limit := queryInt(r, "limit", 200)
	msgs, err := h.history.GetMessages(r.Context(), chatID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		slog.Error("get messages error", "chat_id", chatID, "error", err)
		return
	}
	if msgs == nil {
		msgs = []history.MessageRow{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// DELETE /v1/chats/{id}
func (h *handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if err := h.history.DeleteChat(r.Context(), chatID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete chat error", "chat_id", chatID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// POST /v1/index/build
func (h *handler) handleIndexBuild(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	stats, err := h.pipeline.BuildOrUpdateIndex(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "index build failed")
		slog.Error("index build error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
