package telegram

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Update is an incoming webhook update. Only the fields the bot uses are decoded.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is a chat message
type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      Chat        `json:"chat"`
	Date      int64       `json:"date"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Document  *Document   `json:"document,omitempty"`
}

// User is the sender of a message
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat identifies where a reply goes
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// PhotoSize is one resolution of a photo
type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size,omitempty"`
}

// Document is a file sent without compression
type Document struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name,omitempty"`
	MIMEType     string `json:"mime_type,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
}

// File is the result of getFile
type File struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
}

// BotUser is the result of getMe
type BotUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Attachment is the image a message carries
type Attachment struct {
	FileID   string
	MIMEType string
	FileSize int64
}

// Image returns the image attached to m: the largest photo size, or a
// document whose MIME type is image/*. ok is false when there is none.
func (m *Message) Image() (Attachment, bool) {
	if m == nil {
		return Attachment{}, false
	}
	if len(m.Photo) > 0 {
		best := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height ||
				(p.Width*p.Height == best.Width*best.Height && p.FileSize > best.FileSize) {
				best = p
			}
		}
		// Telegram re-encodes photos as JPEG
		return Attachment{FileID: best.FileID, MIMEType: "image/jpeg", FileSize: best.FileSize}, true
	}
	if m.Document != nil && strings.HasPrefix(strings.ToLower(m.Document.MIMEType), "image/") {
		return Attachment{FileID: m.Document.FileID, MIMEType: m.Document.MIMEType, FileSize: m.Document.FileSize}, true
	}
	return Attachment{}, false
}

// apiResponse is the envelope of every Bot API response
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

// APIError is returned when the Bot API answers ok=false
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.Code, e.Description)
}
