package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	mobilerag "github.com/lavandejoey/MobileRAG"
)

// Registry dispatches parsing by file extension.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&TextParser{}, &PDFParser{}, &XLSXParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Register installs a parser for an extension, replacing any previous one.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(format)] = p
}

// Parse extracts text and MIME type from the file at path, dispatching
// on its extension. The text is guaranteed non-empty after trimming.
func (r *Registry) Parse(ctx context.Context, path string) (Result, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	p, ok := r.parsers[ext]
	if !ok {
		return Result{}, fmt.Errorf("%w: .%s", mobilerag.ErrUnsupportedFormat, ext)
	}

	text, err := p.Parse(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", mobilerag.ErrParseFailed, path, err)
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: %s", mobilerag.ErrEmptyDocument, path)
	}
	return Result{Text: text, Mime: MimeForPath(path)}, nil
}
