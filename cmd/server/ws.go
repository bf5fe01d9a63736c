package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	mobilerag "github.com/lavandejoey/MobileRAG"
	"github.com/lavandejoey/MobileRAG/chat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS middleware layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 30 * time.Second

// wsSink serializes events onto a websocket connection. gorilla
// connections allow one concurrent writer, hence the mutex.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(e chat.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(e)
}

// GET /v1/chat/ws
// The client sends one init frame; the server streams event frames and
// closes after done or error. Client disconnect cancels the turn.
func (h *handler) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	var req chat.Request
	if err := conn.ReadJSON(&req); err != nil {
		slog.Warn("bad init frame", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Read pump: any further read (including the close frame on client
	// disconnect) cancels the in-flight turn.
	go func() {
		defer cancel()
		conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sink := &wsSink{conn: conn}
	err = h.orch.HandleTurn(ctx, req, sink)
	if err == nil {
		closeWS(conn, websocket.CloseNormalClosure)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.Info("turn cancelled", "session_id", req.SessionID)
		return
	}

	slog.Error("turn failed", "session_id", req.SessionID, "error", err)
	if serr := sink.Send(chat.NewErrorEvent(clientMessage(err))); serr != nil {
		return
	}
	closeWS(conn, websocket.CloseInternalServerErr)
}

func closeWS(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// clientMessage strips the module error prefix for the wire.
func clientMessage(err error) string {
	if errors.Is(err, mobilerag.ErrBadRequest) ||
		errors.Is(err, mobilerag.ErrBackendUnavailable) ||
		errors.Is(err, mobilerag.ErrModelUnknown) ||
		errors.Is(err, mobilerag.ErrGenerationFailed) ||
		errors.Is(err, mobilerag.ErrEmbedderProtocol) {
		return strings.TrimPrefix(err.Error(), "mobilerag: ")
	}
	return "internal error"
}
