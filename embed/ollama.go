package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	mobilerag "github.com/lavandejoey/MobileRAG"
)

// Ollama embeds strings through an Ollama server, one request per
// string. Responses are row-L2 normalized before return.
type Ollama struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewOllama returns an embedder backed by the Ollama embeddings API.
func NewOllama(baseURL, model string, dim int) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *Ollama) Dim() int { return o.dim }

func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := o.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(v) != o.dim {
			return nil, fmt.Errorf("%w: got %d dims, want %d", mobilerag.ErrEmbedderProtocol, len(v), o.dim)
		}
		normalizeRow(v)
		out[i] = v
	}
	return out, nil
}

type ollamaEmbeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// /api/embed (newer servers) takes "input" and returns a batch.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbeddingsResponse struct {
	Embedding  []float64   `json:"embedding"`
	Embeddings [][]float64 `json:"embeddings"`
}

func (o *Ollama) embedOne(ctx context.Context, text string) ([]float32, error) {
	er, status, err := o.post(ctx, "/api/embeddings", ollamaEmbeddingsRequest{Model: o.model, Prompt: text})
	if status == http.StatusNotFound {
		// Older endpoint not present; newer servers expose /api/embed.
		er, _, err = o.post(ctx, "/api/embed", ollamaEmbedRequest{Model: o.model, Input: text})
	}
	if err != nil {
		return nil, err
	}

	row := er.Embedding
	if len(row) == 0 && len(er.Embeddings) > 0 {
		row = er.Embeddings[0]
	}
	if len(row) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", mobilerag.ErrEmbedderProtocol)
	}

	v := make([]float32, len(row))
	for i, f := range row {
		v[i] = float32(f)
	}
	return v, nil
}

func (o *Ollama) post(ctx context.Context, path string, payload any) (ollamaEmbeddingsResponse, int, error) {
	var er ollamaEmbeddingsResponse

	body, err := json.Marshal(payload)
	if err != nil {
		return er, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return er, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return er, 0, fmt.Errorf("ollama embed request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return er, resp.StatusCode, fmt.Errorf("reading ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return er, resp.StatusCode, fmt.Errorf("%w: ollama embed error %d: %s", mobilerag.ErrEmbedderProtocol, resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, &er); err != nil {
		return er, resp.StatusCode, fmt.Errorf("%w: decoding embed response: %v", mobilerag.ErrEmbedderProtocol, err)
	}
	return er, resp.StatusCode, nil
}
