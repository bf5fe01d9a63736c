// Package history persists chat sessions: turns, reasoning traces, and
// per-turn metadata.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Message roles.
const (
	RoleUser           = "user"
	RoleAssistant      = "assistant"
	RoleAssistantThink = "assistant_think"
	RoleMeta           = "meta"
)

// ChatRow is a row in the chats table.
type ChatRow struct {
	ChatID    string  `json:"chat_id"`
	Title     string  `json:"title"`
	CreatedAt float64 `json:"created_at"`
	UpdatedAt float64 `json:"updated_at"`
}

// MessageRow is a row in the messages table. MsgID is strictly
// increasing in insertion order within a chat.
type MessageRow struct {
	MsgID     int64   `json:"msg_id"`
	ChatID    string  `json:"chat_id"`
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	CreatedAt float64 `json:"created_at"`
}

// Summary is the single rolling summary of a chat.
type Summary struct {
	ChatID     string  `json:"chat_id"`
	Summary    string  `json:"summary"`
	TokenCount int     `json:"token_count"`
	LastTurnID int64   `json:"last_turn_id"`
	Timestamp  float64 `json:"timestamp"`
}

// TurnMeta is the per-turn timing metadata persisted as a meta message.
type TurnMeta struct {
	ThinkMS int64 `json:"think_ms"`
	TotalMS int64 `json:"total_ms"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chats (
	chat_id    TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	msg_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    TEXT NOT NULL REFERENCES chats(chat_id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, msg_id);

CREATE TABLE IF NOT EXISTS chat_summaries (
	chat_id      TEXT UNIQUE NOT NULL REFERENCES chats(chat_id) ON DELETE CASCADE,
	summary      TEXT NOT NULL,
	token_count  INTEGER NOT NULL,
	last_turn_id INTEGER NOT NULL,
	timestamp    REAL NOT NULL
);
`

// Store wraps the history SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) history.db inside dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	dbPath := filepath.Join(dir, "history.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// CreateChat allocates a new chat with a random opaque id.
func (s *Store) CreateChat(ctx context.Context, title string) (string, error) {
	chatID := uuid.NewString()
	ts := now()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chats (chat_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		chatID, title, ts, ts)
	if err != nil {
		return "", err
	}
	return chatID, nil
}

// EnsureChat returns the given chat id if it exists, creating a new
// chat otherwise. The boolean reports whether a chat was created.
func (s *Store) EnsureChat(ctx context.Context, chatID, title string) (string, bool, error) {
	if chatID != "" {
		var exists int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM chats WHERE chat_id = ?", chatID).Scan(&exists)
		if err != nil {
			return "", false, err
		}
		if exists > 0 {
			return chatID, false, nil
		}
	}
	id, err := s.CreateChat(ctx, title)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// ListChats returns chats ordered by updated_at descending.
func (s *Store) ListChats(ctx context.Context, limit int) ([]ChatRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, title, created_at, updated_at
		FROM chats ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []ChatRow
	for rows.Next() {
		var c ChatRow
		if err := rows.Scan(&c.ChatID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetMessages returns a chat's messages ordered by msg_id ascending.
func (s *Store) GetMessages(ctx context.Context, chatID string, limit int) ([]MessageRow, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT msg_id, chat_id, role, content, created_at
		FROM messages WHERE chat_id = ? ORDER BY msg_id ASC LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetRecentMessages returns the newest n user/assistant messages of a
// chat in chronological order. Think and meta rows are excluded; this
// feeds the prompt budget, not replay.
func (s *Store) GetRecentMessages(ctx context.Context, chatID string, n int) ([]MessageRow, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT msg_id, chat_id, role, content, created_at
		FROM messages
		WHERE chat_id = ? AND role IN ('user', 'assistant')
		ORDER BY msg_id DESC LIMIT ?
	`, chatID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessages(rows *sql.Rows) ([]MessageRow, error) {
	var msgs []MessageRow
	for rows.Next() {
		var m MessageRow
		if err := rows.Scan(&m.MsgID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteChat removes a chat; messages and summary cascade.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE chat_id = ?", chatID)
	return err
}

// AddMessage appends a message and touches the chat's updated_at.
func (s *Store) AddMessage(ctx context.Context, chatID, role, content string) (int64, error) {
	var msgID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO messages (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)",
			chatID, role, content, now())
		if err != nil {
			return err
		}
		if msgID, err = res.LastInsertId(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE chats SET updated_at = ? WHERE chat_id = ?", now(), chatID)
		return err
	})
	return msgID, err
}

// PersistTurn appends the assistant side of a turn in replay order:
// optional assistant_think, meta timings, terminal assistant.
func (s *Store) PersistTurn(ctx context.Context, chatID, answer, think string, meta TurnMeta) error {
	if think != "" {
		if _, err := s.AddMessage(ctx, chatID, RoleAssistantThink, think); err != nil {
			return err
		}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if _, err := s.AddMessage(ctx, chatID, RoleMeta, string(metaJSON)); err != nil {
		return err
	}
	_, err = s.AddMessage(ctx, chatID, RoleAssistant, answer)
	return err
}

// SaveSummary upserts the chat's rolling summary.
func (s *Store) SaveSummary(ctx context.Context, sum Summary) error {
	if sum.Timestamp == 0 {
		sum.Timestamp = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_summaries (chat_id, summary, token_count, last_turn_id, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			summary = excluded.summary,
			token_count = excluded.token_count,
			last_turn_id = excluded.last_turn_id,
			timestamp = excluded.timestamp
	`, sum.ChatID, sum.Summary, sum.TokenCount, sum.LastTurnID, sum.Timestamp)
	return err
}

// GetSummary returns the chat's summary, or nil when none exists.
func (s *Store) GetSummary(ctx context.Context, chatID string) (*Summary, error) {
	sum := &Summary{}
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, summary, token_count, last_turn_id, timestamp
		FROM chat_summaries WHERE chat_id = ?
	`, chatID).Scan(&sum.ChatID, &sum.Summary, &sum.TokenCount, &sum.LastTurnID, &sum.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// TitleFromFirstMessage derives a chat title from the first user text,
// truncated to 48 characters on a word edge.
func TitleFromFirstMessage(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "New chat"
	}
	const maxLen = 48
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	cut := string(runes[:maxLen])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
