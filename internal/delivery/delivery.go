// Package delivery connects receipt extraction to the surfaces users reach it
// through: a local file on the command line and a Telegram chat.
package delivery

import (
	"context"

	"github.com/zombor/receipt-agent/internal/receipt"
	"github.com/zombor/receipt-agent/internal/scanning"
)

// Extractor classifies a receipt image
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string, opts ...scanning.ExtractOption) receipt.Outcome
}

// Messenger is the chat platform a ChatDelivery talks to
type Messenger interface {
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) error
}
