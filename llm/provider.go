// Package llm adapts chat model backends behind a uniform streaming
// interface.
package llm

import (
	"context"
	"fmt"
)

// Message is one chat message. Recognized roles are system, user, and
// assistant.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams are immutable per request.
type GenerationParams struct {
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	MaxNewTokens int     `json:"max_new_tokens"`
}

// Stream is a lazy finite sequence of UTF-8 text chunks with arbitrary
// split points. Recv returns io.EOF at the end of the stream.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Provider is the uniform contract to a chat model backend. Backends
// that expose a reasoning channel out-of-band re-inline it as
// <think>...</think> spans so downstream demuxing has one code path.
type Provider interface {
	StreamChat(ctx context.Context, messages []Message, params GenerationParams) (Stream, error)
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// Config configures a chat model backend.
type Config struct {
	Backend string `json:"backend"` // ollama, openai
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Think   bool   `json:"think"` // request the backend's reasoning channel
}

// NewProvider creates a chat model adapter from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Backend {
	case "ollama", "":
		return NewOllama(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unknown model backend: %s", cfg.Backend)
	}
}
