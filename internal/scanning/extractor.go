package scanning

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zombor/receipt-agent/internal/receipt"
)

// DefaultTimeout bounds a single model call
const DefaultTimeout = 60 * time.Second

const maxReasonRunes = 300

// Extractor turns receipt images into classified outcomes with one model call
type Extractor struct {
	model        Model
	validator    *receipt.Validator
	timeout      time.Duration
	schema       Schema
	instructions string
}

// Option configures an Extractor
type Option func(*Extractor)

// WithTimeout sets the model call timeout
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithValidator replaces the default validator
func WithValidator(v *receipt.Validator) Option {
	return func(e *Extractor) {
		if v != nil {
			e.validator = v
		}
	}
}

// ExtractOption configures one Extract call
type ExtractOption func(*extractSettings)

type extractSettings struct {
	hint string
}

// WithHint passes the sender's description of the receipt to the model
func WithHint(hint string) ExtractOption {
	return func(s *extractSettings) {
		s.hint = hint
	}
}

// NewExtractor creates an Extractor backed by model
func NewExtractor(model Model, opts ...Option) *Extractor {
	schema := ReceiptSchema()
	e := &Extractor{
		model:        model,
		validator:    receipt.NewValidator(receipt.DefaultPolicy()),
		timeout:      DefaultTimeout,
		schema:       schema,
		instructions: instructions(schema),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract classifies image. It never panics on model output and always
// returns exactly one of receipt.Success, receipt.NotAReceipt or
// receipt.Failure.
func (e *Extractor) Extract(ctx context.Context, image []byte, mimeType string, opts ...ExtractOption) receipt.Outcome {
	var settings extractSettings
	for _, opt := range opts {
		opt(&settings)
	}

	if len(image) == 0 {
		return receipt.NewFailure(receipt.ErrInvalidInput, "empty image", nil)
	}

	prepared, err := prepareImage(image, mimeType)
	if err != nil {
		slog.Warn("Rejecting unsupported image",
			"content_type", mimeType,
			"file_size", len(image),
			"error", err,
		)
		return receipt.NewFailure(receipt.ErrInvalidInput, "unsupported image", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.model.Generate(callCtx, Request{
		Image:        prepared.data,
		MIMEType:     prepared.mimeType,
		Instructions: e.instructions,
		Prompt:       prompt(settings.hint),
		Schema:       e.schema,
	})
	if err != nil {
		failure := providerFailure(callCtx, err)
		slog.Error("Model call failed",
			"content_type", prepared.mimeType,
			"file_size", len(prepared.data),
			"detail", failure.Detail,
			"error", err,
		)
		return failure
	}

	if resp.Structured == nil {
		return receipt.NotAReceipt{Reason: truncateReason(resp.Text)}
	}

	candidate, err := receipt.ParseCandidate(resp.Structured)
	if err != nil {
		slog.Error("Failed to parse model output",
			"output", string(resp.Structured),
			"error", err,
		)
		return receipt.NewFailure(receipt.ErrParseError, "malformed structured output", err)
	}

	record, err := e.validator.Validate(candidate)
	if err != nil {
		var rejected *receipt.RejectedError
		if errors.As(err, &rejected) {
			slog.Info("Model output rejected", "reason", rejected.Reason)
			return receipt.NotAReceipt{Reason: rejected.Reason}
		}
		return receipt.NewFailure(receipt.ErrParseError, "validation failed", err)
	}

	return receipt.Success{Record: record}
}

func providerFailure(ctx context.Context, err error) receipt.Failure {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return receipt.NewFailure(receipt.ErrProviderError, "timeout", err)
	case errors.Is(err, ErrContentRejected):
		return receipt.NewFailure(receipt.ErrProviderError, "content rejected", err)
	default:
		return receipt.NewFailure(receipt.ErrProviderError, err.Error(), err)
	}
}

func truncateReason(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxReasonRunes {
		return text
	}
	return string([]rune(text)[:maxReasonRunes]) + "…"
}

// Close releases the underlying model
func (e *Extractor) Close() error {
	return e.model.Close()
}
