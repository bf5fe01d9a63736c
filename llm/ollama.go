package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	mobilerag "github.com/lavandejoey/MobileRAG"
)

// ollamaProvider talks to Ollama's native API. The native /api/chat
// endpoint streams NDJSON and exposes reasoning as a separate
// "thinking" field, which this adapter re-inlines as <think> spans.
type ollamaProvider struct {
	cfg    Config
	client *http.Client
}

// NewOllama creates a provider for Ollama.
func NewOllama(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &ollamaProvider{
		cfg: cfg,
		// No overall timeout: generation streams can legitimately run
		// for minutes. Cancellation comes from the request context.
		client: &http.Client{},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Think    bool            `json:"think,omitempty"`
	Options  json.RawMessage `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

func (p *ollamaProvider) StreamChat(ctx context.Context, messages []Message, params GenerationParams) (Stream, error) {
	if err := p.checkModel(ctx); err != nil {
		return nil, err
	}

	opts, err := json.Marshal(ollamaOptions{
		Temperature: params.Temperature,
		TopP:        params.TopP,
		NumPredict:  params.MaxNewTokens,
	})
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(ollamaChatRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Stream:   true,
		Think:    p.cfg.Think,
		Options:  opts,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("%w: ollama chat error %d: %s", mobilerag.ErrGenerationFailed, resp.StatusCode, msg)
	}

	return &ollamaStream{
		body:    resp.Body,
		scanner: newLineScanner(resp.Body),
	}, nil
}

func (p *ollamaProvider) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
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

// checkModel verifies the configured model exists on the backend.
func (p *ollamaProvider) checkModel(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"model": p.cfg.Model})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", mobilerag.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", mobilerag.ErrModelUnknown, p.cfg.Model)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ollama show error %d", mobilerag.ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

// ollamaStream yields text chunks from an NDJSON response body.
// Out-of-band thinking text is wrapped in <think> tags inline, with the
// open tag emitted before the first thinking chunk and the close tag
// before the first subsequent content chunk.
type ollamaStream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	thinking bool
	done     bool
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return sc
}

func (s *ollamaStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("%w: bad stream chunk: %v", mobilerag.ErrGenerationFailed, err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("%w: %s", mobilerag.ErrGenerationFailed, chunk.Error)
		}

		var out string
		if chunk.Message.Thinking != "" {
			if !s.thinking {
				s.thinking = true
				out = "<think>"
			}
			out += chunk.Message.Thinking
		}
		if chunk.Message.Content != "" {
			if s.thinking {
				s.thinking = false
				out += "</think>"
			}
			out += chunk.Message.Content
		}
		if chunk.Done {
			s.done = true
			if s.thinking {
				s.thinking = false
				out += "</think>"
			}
			if out == "" {
				return "", io.EOF
			}
			return out, nil
		}
		if out != "" {
			return out, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: reading stream: %v", mobilerag.ErrGenerationFailed, err)
	}
	s.done = true
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	return s.body.Close()
}
