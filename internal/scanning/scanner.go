package scanning

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrContentRejected is returned by a Model when the provider refuses the
// request content (blocked prompt, unsupported media).
var ErrContentRejected = errors.New("content rejected by provider")

// Request is one call to a vision-capable model
type Request struct {
	Image        []byte
	MIMEType     string
	Instructions string
	// Prompt is the user turn sent alongside the image
	Prompt string
	Schema Schema
}

// Response is what the model returned. Structured is nil when the model
// answered with free text instead of calling the schema function.
type Response struct {
	Structured json.RawMessage
	Text       string
}

// Model defines the interface for vision-capable model providers
type Model interface {
	// Generate issues exactly one model call
	Generate(ctx context.Context, req Request) (Response, error)
	// Close closes the model client and releases resources
	Close() error
}
