package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	// MaxFileSize is the largest file the Bot API lets bots download
	MaxFileSize = 20 << 20
)

// ErrFileTooLarge is returned for files above MaxFileSize
var ErrFileTooLarge = errors.New("file too large")

// Client talks to the Telegram Bot API
type Client struct {
	token   string
	baseURL string
	client  *resty.Client
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another Bot API server
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.SetTimeout(d)
	}
}

// NewClient creates a Bot API client for token
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		client:  resty.New().SetTimeout(30 * time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetMe returns the bot's own user
func (c *Client) GetMe(ctx context.Context) (BotUser, error) {
	var me BotUser
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return BotUser{}, err
	}
	return me, nil
}

// GetFile resolves a file id to a downloadable path
func (c *Client) GetFile(ctx context.Context, fileID string) (File, error) {
	var file File
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &file); err != nil {
		return File{}, err
	}
	if file.FilePath == "" {
		return File{}, fmt.Errorf("telegram getFile returned no file_path for %s", fileID)
	}
	return file, nil
}

// DownloadFile fetches the content at a path returned by GetFile
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get(c.baseURL + "/file/bot" + c.token + "/" + strings.TrimLeft(filePath, "/"))
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", c.redact(err))
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("downloading file: status %d", resp.StatusCode())
	}
	if len(resp.Body()) > MaxFileSize {
		return nil, fmt.Errorf("downloading file: %w", ErrFileTooLarge)
	}
	return resp.Body(), nil
}

// FetchFile resolves and downloads a file by id
func (c *Client) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	if file.FileSize > MaxFileSize {
		return nil, fmt.Errorf("file %s is %d bytes: %w", fileID, file.FileSize, ErrFileTooLarge)
	}
	return c.DownloadFile(ctx, file.FilePath)
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// SendMessage posts text to a chat. An empty parseMode sends plain text.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: parseMode,
	}, nil)
}

type setWebhookRequest struct {
	URL            string   `json:"url"`
	SecretToken    string   `json:"secret_token,omitempty"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// SetWebhook registers url as the bot's webhook. Telegram sends secret back
// in the X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	return c.call(ctx, "setWebhook", setWebhookRequest{
		URL:            url,
		SecretToken:    secret,
		AllowedUpdates: []string{"message"},
	}, nil)
}

// DeleteWebhook removes the bot's webhook
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", map[string]bool{"drop_pending_updates": dropPending}, nil)
}

func (c *Client) call(ctx context.Context, method string, body interface{}, result interface{}) error {
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Post(c.baseURL + "/bot" + c.token + "/" + method)
	if err != nil {
		return fmt.Errorf("calling telegram %s: %w", method, c.redact(err))
	}

	var api apiResponse
	if err := json.Unmarshal(resp.Body(), &api); err != nil {
		return fmt.Errorf("decoding telegram %s response (status %d): %w", method, resp.StatusCode(), err)
	}
	if !api.OK {
		code := api.ErrorCode
		if code == 0 {
			code = resp.StatusCode()
		}
		return &APIError{Method: method, Code: code, Description: api.Description}
	}

	if result != nil {
		if err := json.Unmarshal(api.Result, result); err != nil {
			return fmt.Errorf("decoding telegram %s result: %w", method, err)
		}
	}
	return nil
}

// redactedError hides the bot token, which is part of every request URL
type redactedError struct {
	err   error
	token string
}

func (e redactedError) Error() string {
	return strings.ReplaceAll(e.err.Error(), e.token, "<token>")
}

func (e redactedError) Unwrap() error {
	return e.err
}

func (c *Client) redact(err error) error {
	return redactedError{err: err, token: c.token}
}
