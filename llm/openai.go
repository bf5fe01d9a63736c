package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	mobilerag "github.com/lavandejoey/MobileRAG"
)

// openaiProvider speaks the OpenAI-compatible chat completions API with
// SSE streaming. Any server exposing /v1/chat/completions works.
type openaiProvider struct {
	cfg    Config
	client *http.Client
}

// NewOpenAI creates a provider for an OpenAI-compatible endpoint.
func NewOpenAI(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &openaiProvider{cfg: cfg, client: &http.Client{}}
}

type openaiChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *openaiProvider) StreamChat(ctx context.Context, messages []Message, params GenerationParams) (Stream, error) {
	body, err := json.Marshal(openaiChatRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		Stream:      true,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxNewTokens,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mobilerag.ErrBackendUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", mobilerag.ErrModelUnknown, msg)
		}
		return nil, fmt.Errorf("%w: chat completions error %d: %s", mobilerag.ErrGenerationFailed, resp.StatusCode, msg)
	}

	return &sseStream{
		body:    resp.Body,
		scanner: newLineScanner(resp.Body),
	}, nil
}

func (p *openaiProvider) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	stream, err := p.StreamChat(ctx, messages, params)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var b bytes.Buffer
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

// sseStream yields content deltas from a server-sent events response.
// The stream ends at the [DONE] sentinel or body EOF.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}
		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("%w: bad stream chunk: %v", mobilerag.ErrGenerationFailed, err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("%w: %s", mobilerag.ErrGenerationFailed, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: reading stream: %v", mobilerag.ErrGenerationFailed, err)
	}
	s.done = true
	return "", io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
