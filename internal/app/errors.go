package app

import "errors"

// Validation: rejected before any side effect.
var (
	ErrInvalidTenantKey     = errors.New("tenant key is missing or too short")
	ErrFileQuotaExceeded    = errors.New("file count quota exceeded")
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")
	ErrUploadTooLarge       = errors.New("upload exceeds the size limit")
	ErrEmptyContent         = errors.New("extraction produced no usable content")
	ErrMessageEmpty         = errors.New("message content is empty")
	ErrInvalidInput         = errors.New("invalid input")
)

// Extraction.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrExtractionFailed  = errors.New("file content could not be read")
)

// Dependency.
var (
	ErrIndexingFailed     = errors.New("document could not be indexed")
	ErrBackendUnavailable = errors.New("language model backend unavailable")
)

// Consistency: ownership checks that did not match.
var (
	ErrChatNotFound     = errors.New("chat not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrTenantNotFound   = errors.New("tenant not found")
)

// Stream: terminal for the turn, nothing persisted.
var (
	ErrStreamInterrupted = errors.New("answer stream was interrupted")
	ErrClientGone        = errors.New("client disconnected")
)
