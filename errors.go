package mobilerag

import "errors"

var (
	// ErrBadRequest is returned for a malformed init frame or empty message.
	ErrBadRequest = errors.New("mobilerag: bad request")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("mobilerag: unsupported document format")

	// ErrEmptyDocument is returned when a parsed document is empty after trimming.
	ErrEmptyDocument = errors.New("mobilerag: empty document")

	// ErrParseFailed is returned when document parsing fails.
	ErrParseFailed = errors.New("mobilerag: parsing failed")

	// ErrEmbedderProtocol is returned when an embedding backend returns a
	// malformed response.
	ErrEmbedderProtocol = errors.New("mobilerag: embedder protocol error")

	// ErrBackendUnavailable is returned when the model backend is unreachable.
	ErrBackendUnavailable = errors.New("mobilerag: model backend unavailable")

	// ErrModelUnknown is returned when the configured model does not exist
	// on the backend.
	ErrModelUnknown = errors.New("mobilerag: unknown model")

	// ErrGenerationFailed is returned when generation produces no answer.
	ErrGenerationFailed = errors.New("mobilerag: generation failed")

	// ErrStorageCorrupt is returned when index, metadata, and id files
	// disagree on load. The next build pass rebuilds from stored chunks.
	ErrStorageCorrupt = errors.New("mobilerag: index storage corrupt")

	// ErrChatNotFound is returned when a chat id does not exist.
	ErrChatNotFound = errors.New("mobilerag: chat not found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("mobilerag: invalid configuration")
)
