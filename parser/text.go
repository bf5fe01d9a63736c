package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// TextParser handles plain text and markdown files.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md"} }

func (p *TextParser) Parse(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}
	return decodeUTF8(data), nil
}

// decodeUTF8 interprets data as UTF-8, replacing invalid byte sequences
// with the replacement rune.
func decodeUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	var b strings.Builder
	b.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		b.WriteRune(r) // invalid sequences decode to utf8.RuneError
		data = data[size:]
	}
	return b.String()
}
