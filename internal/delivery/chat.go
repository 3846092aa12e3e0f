package delivery

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-agent/internal/receipt"
	"github.com/zombor/receipt-agent/internal/scanning"
	"github.com/zombor/receipt-agent/internal/telegram"
)

// SecretHeader carries the webhook secret on every update Telegram sends
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// DefaultFetchTimeout bounds downloading an image from the chat platform
const DefaultFetchTimeout = 30 * time.Second

// Ack is the acknowledgement returned for an inbound update
type Ack int

const (
	AckOK Ack = iota
	AckUnauthorized
)

func (a Ack) String() string {
	switch a {
	case AckOK:
		return "ok"
	case AckUnauthorized:
		return "unauthorized"
	}
	return fmt.Sprintf("Ack(%d)", int(a))
}

// chatState names the steps an update goes through, for logging
type chatState string

const (
	stateReceived     chatState = "received"
	stateRejected     chatState = "rejected"
	stateImageFetched chatState = "image_fetched"
	stateExtracted    chatState = "extracted"
	stateReplied      chatState = "replied"
)

// ChatDelivery answers receipt photos sent to the bot
type ChatDelivery struct {
	extractor    Extractor
	messenger    Messenger
	formatter    *receipt.Formatter
	secret       string
	fetchTimeout time.Duration
}

// ChatOption configures a ChatDelivery
type ChatOption func(*ChatDelivery)

// WithFetchTimeout bounds image downloads
func WithFetchTimeout(d time.Duration) ChatOption {
	return func(c *ChatDelivery) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// NewChatDelivery creates a ChatDelivery. An empty secret disables update
// authentication.
func NewChatDelivery(extractor Extractor, messenger Messenger, formatter *receipt.Formatter, secret string, opts ...ChatOption) *ChatDelivery {
	c := &ChatDelivery{
		extractor:    extractor,
		messenger:    messenger,
		formatter:    formatter,
		secret:       secret,
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate reports whether token matches the configured secret
func (c *ChatDelivery) Authenticate(token string) bool {
	if c.secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.secret)) == 1
}

// HandleUpdate authenticates and processes one update synchronously
func (c *ChatDelivery) HandleUpdate(ctx context.Context, token string, update telegram.Update) Ack {
	if !c.Authenticate(token) {
		slog.Warn("Rejected update with invalid secret token", "update_id", update.UpdateID)
		return AckUnauthorized
	}
	if err := c.Process(ctx, update); err != nil {
		slog.Error("Failed to process update", "update_id", update.UpdateID, "error", err)
	}
	return AckOK
}

// Process runs one update to completion: fetch the image, extract, reply.
// Messages without an image get a usage hint. The returned error only
// reports a reply that could not be delivered.
func (c *ChatDelivery) Process(ctx context.Context, update telegram.Update) error {
	msg := update.Message
	if msg == nil {
		slog.Debug("Ignoring update without a message", "update_id", update.UpdateID)
		return nil
	}

	log := slog.With(
		"request_id", uuid.NewString(),
		"update_id", update.UpdateID,
		"chat_id", msg.Chat.ID,
	)
	log.Info("Processing update", "state", stateReceived)

	attachment, ok := msg.Image()
	if !ok {
		log.Info("Message has no image", "state", stateRejected)
		return c.reply(ctx, log, msg.Chat.ID,
			receipt.UsageHint(receipt.ChatMarkup),
			receipt.UsageHint(receipt.Plain),
		)
	}

	outcome := c.extract(ctx, log, attachment, msg.Caption)
	if err := c.reply(ctx, log, msg.Chat.ID,
		c.formatter.Format(outcome, receipt.ChatMarkup),
		c.formatter.Format(outcome, receipt.Plain),
	); err != nil {
		return err
	}
	log.Info("Update processed", "state", stateReplied, "outcome", outcomeName(outcome))
	return nil
}

func (c *ChatDelivery) extract(ctx context.Context, log *slog.Logger, attachment telegram.Attachment, caption string) receipt.Outcome {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	data, err := c.messenger.FetchFile(fetchCtx, attachment.FileID)
	cancel()
	if err != nil {
		log.Error("Failed to fetch image", "file_id", attachment.FileID, "error", err)
		if errors.Is(err, telegram.ErrFileTooLarge) {
			return receipt.NewFailure(receipt.ErrInvalidInput, "file too large", err)
		}
		return receipt.NewFailure(receipt.ErrProviderError, "fetching image", err)
	}
	log.Info("Image fetched", "state", stateImageFetched, "content_type", attachment.MIMEType, "file_size", len(data))

	outcome := c.extractor.Extract(ctx, data, attachment.MIMEType, scanning.WithHint(caption))
	log.Info("Receipt extracted", "state", stateExtracted, "outcome", outcomeName(outcome))
	return outcome
}

// reply sends markup and, when the platform rejects the markup, sends plain
// once instead.
func (c *ChatDelivery) reply(ctx context.Context, log *slog.Logger, chatID int64, markup, plain string) error {
	err := c.messenger.SendMessage(ctx, chatID, markup, receipt.ParseModeMarkdownV2)
	if err == nil {
		return nil
	}

	var apiErr *telegram.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		return fmt.Errorf("sending reply: %w", err)
	}

	log.Warn("Markup rejected, resending as plain text", "error", err)
	if err := c.messenger.SendMessage(ctx, chatID, plain, ""); err != nil {
		return fmt.Errorf("sending plain reply: %w", err)
	}
	return nil
}

func outcomeName(o receipt.Outcome) string {
	switch v := o.(type) {
	case receipt.Success:
		return "success"
	case receipt.NotAReceipt:
		return "not_a_receipt"
	case receipt.Failure:
		return string(v.Kind)
	default:
		return "unknown"
	}
}
