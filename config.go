package mobilerag

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the MobileRAG engine.
type Config struct {
	// DocsGlobs are the glob patterns scanned for corpus files.
	// Recursive ** patterns are supported.
	DocsGlobs []string `json:"docs_globs" yaml:"docs_globs"`

	// DocsExts is the extension allow-list applied after glob expansion.
	DocsExts []string `json:"docs_exts" yaml:"docs_exts"`

	// HistoryDir is the directory holding history.db.
	HistoryDir string `json:"history_dir" yaml:"history_dir"`

	RAG    RAGConfig    `json:"rag" yaml:"rag"`
	Model  ModelConfig  `json:"model" yaml:"model"`
	Budget BudgetConfig `json:"budget" yaml:"budget"`
}

// RAGConfig configures the retrieval substrate.
type RAGConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	IndexDir        string  `json:"index_dir" yaml:"index_dir"`
	IndexFile       string  `json:"index_file" yaml:"index_file"`
	SQLiteFile      string  `json:"sqlite_file" yaml:"sqlite_file"`
	MaxFileSizeMB   int     `json:"max_file_size_mb" yaml:"max_file_size_mb"`
	ChunkSize       int     `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap    int     `json:"chunk_overlap" yaml:"chunk_overlap"`
	TopK            int     `json:"top_k" yaml:"top_k"`
	CandidatesK     int     `json:"candidates_k" yaml:"candidates_k"`
	EmbedderBackend string  `json:"embedder_backend" yaml:"embedder_backend"` // hashing, ollama
	EmbedDim        int     `json:"embed_dim" yaml:"embed_dim"`
	EmbedBaseURL    string  `json:"embed_base_url" yaml:"embed_base_url"`
	EmbedModel      string  `json:"embed_model" yaml:"embed_model"`
	IndexBackend    string  `json:"index_backend" yaml:"index_backend"` // sqlite-vec, flat
	RerankAlpha     float64 `json:"rerank_alpha" yaml:"rerank_alpha"`
	PromptMaxChars  int     `json:"prompt_max_chars" yaml:"prompt_max_chars"`
}

// ModelConfig configures the chat model backend.
type ModelConfig struct {
	Backend      string  `json:"backend" yaml:"backend"` // ollama, openai
	ModelName    string  `json:"model_name" yaml:"model_name"`
	BaseURL      string  `json:"base_url" yaml:"base_url"`
	APIKey       string  `json:"api_key" yaml:"api_key"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	TopP         float64 `json:"top_p" yaml:"top_p"`
	MaxNewTokens int     `json:"max_new_tokens" yaml:"max_new_tokens"`
	Stream       bool    `json:"stream" yaml:"stream"`
	Think        bool    `json:"think" yaml:"think"`
}

// BudgetConfig bounds the assembled prompt context.
type BudgetConfig struct {
	ModelContextWindow int `json:"model_context_window" yaml:"model_context_window"`
	SummaryTokenLimit  int `json:"summary_token_limit" yaml:"summary_token_limit"`
	RecentMessageLimit int `json:"recent_message_limit" yaml:"recent_message_limit"`
	MemoryTokenLimit   int `json:"memory_token_limit" yaml:"memory_token_limit"`
	EvidenceTokenLimit int `json:"evidence_token_limit" yaml:"evidence_token_limit"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
func DefaultConfig() Config {
	return Config{
		DocsGlobs:  []string{"data/raw/*"},
		DocsExts:   []string{".txt", ".md", ".pdf"},
		HistoryDir: "data/history",
		RAG: RAGConfig{
			Enabled:         true,
			IndexDir:        "data/rag",
			IndexFile:       "chunks.index",
			SQLiteFile:      "rag_meta.db",
			MaxFileSizeMB:   30,
			ChunkSize:       1000,
			ChunkOverlap:    150,
			TopK:            6,
			CandidatesK:     30,
			EmbedderBackend: "hashing",
			EmbedDim:        2048,
			EmbedBaseURL:    "http://localhost:11434",
			EmbedModel:      "nomic-embed-text",
			IndexBackend:    "sqlite-vec",
			RerankAlpha:     0.10,
			PromptMaxChars:  6000,
		},
		Model: ModelConfig{
			Backend:      "ollama",
			ModelName:    "qwen3:0.6b",
			BaseURL:      "http://localhost:11434",
			Temperature:  0.2,
			TopP:         0.9,
			MaxNewTokens: 512,
			Stream:       true,
			Think:        false,
		},
		Budget: BudgetConfig{
			ModelContextWindow: 8192,
			SummaryTokenLimit:  2048,
			RecentMessageLimit: 10,
			MemoryTokenLimit:   1024,
			EvidenceTokenLimit: 4096,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns DefaultConfig unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides configuration fields from MOBILERAG_* environment
// variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MOBILERAG_DOCS_GLOBS"); v != "" {
		c.DocsGlobs = splitList(v)
	}
	if v := os.Getenv("MOBILERAG_DOCS_EXTS"); v != "" {
		c.DocsExts = splitList(v)
	}
	if v := os.Getenv("MOBILERAG_HISTORY_DIR"); v != "" {
		c.HistoryDir = v
	}
	if v := os.Getenv("MOBILERAG_RAG_ENABLED"); v != "" {
		c.RAG.Enabled = parseBool(v, c.RAG.Enabled)
	}
	if v := os.Getenv("MOBILERAG_RAG_INDEX_DIR"); v != "" {
		c.RAG.IndexDir = v
	}
	if v := os.Getenv("MOBILERAG_RAG_EMBEDDER_BACKEND"); v != "" {
		c.RAG.EmbedderBackend = v
	}
	if v := os.Getenv("MOBILERAG_RAG_EMBED_DIM"); v != "" {
		c.RAG.EmbedDim = parseInt(v, c.RAG.EmbedDim)
	}
	if v := os.Getenv("MOBILERAG_RAG_EMBED_BASE_URL"); v != "" {
		c.RAG.EmbedBaseURL = v
	}
	if v := os.Getenv("MOBILERAG_RAG_INDEX_BACKEND"); v != "" {
		c.RAG.IndexBackend = v
	}
	if v := os.Getenv("MOBILERAG_RAG_TOP_K"); v != "" {
		c.RAG.TopK = parseInt(v, c.RAG.TopK)
	}
	if v := os.Getenv("MOBILERAG_MODEL_BACKEND"); v != "" {
		c.Model.Backend = v
	}
	if v := os.Getenv("MOBILERAG_MODEL_NAME"); v != "" {
		c.Model.ModelName = v
	}
	if v := os.Getenv("MOBILERAG_MODEL_BASE_URL"); v != "" {
		c.Model.BaseURL = v
	}
	if v := os.Getenv("MOBILERAG_MODEL_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("MOBILERAG_MODEL_THINK"); v != "" {
		c.Model.Think = parseBool(v, c.Model.Think)
	}
	if v := os.Getenv("MOBILERAG_BUDGET_CONTEXT_WINDOW"); v != "" {
		c.Budget.ModelContextWindow = parseInt(v, c.Budget.ModelContextWindow)
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	}
	if c.RAG.EmbedDim <= 0 {
		return fmt.Errorf("%w: embed_dim must be positive", ErrInvalidConfig)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive", ErrInvalidConfig)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size)", ErrInvalidConfig)
	}
	if c.Budget.ModelContextWindow <= 0 {
		return fmt.Errorf("%w: model_context_window must be positive", ErrInvalidConfig)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseBool(v string, def bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
