// Package parser converts corpus files to plain text by format.
package parser

import (
	"context"
	"mime"
	"path/filepath"
	"strings"
)

// Result is the flat output of a parse: the extracted text and the MIME
// type guessed from the file extension.
type Result struct {
	Text string
	Mime string
}

// Parser extracts plain text from one or more file formats.
type Parser interface {
	// SupportedFormats lists the lowercase extensions (without dot)
	// this parser handles.
	SupportedFormats() []string

	// Parse extracts the plain text of the file at path.
	Parse(ctx context.Context, path string) (string, error)
}

// MimeForPath guesses the MIME type from the file extension, falling
// back to application/octet-stream.
func MimeForPath(path string) string {
	if m := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); m != "" {
		return m
	}
	return "application/octet-stream"
}
