package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"sync"

	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-agent/internal/receipt"
	"github.com/zombor/receipt-agent/internal/scanning"
)

type extractCall struct {
	image    []byte
	mimeType string
	options  int
}

// stubExtractor records calls and returns a fixed outcome
type stubExtractor struct {
	mu      sync.Mutex
	calls   []extractCall
	outcome receipt.Outcome
}

func (s *stubExtractor) Extract(ctx context.Context, image []byte, mimeType string, opts ...scanning.ExtractOption) receipt.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, extractCall{image: image, mimeType: mimeType, options: len(opts)})
	return s.outcome
}

func (s *stubExtractor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type sentMessage struct {
	chatID    int64
	text      string
	parseMode string
}

// stubMessenger serves one file and records sent messages
type stubMessenger struct {
	mu       sync.Mutex
	file     []byte
	fetchErr error
	fetched  []string
	sendErrs []error
	sent     []sentMessage
}

func (m *stubMessenger) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, fileID)
	return m.file, m.fetchErr
}

func (m *stubMessenger) SendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text, parseMode: parseMode})
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		return err
	}
	return nil
}

func (m *stubMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

// fixedModel always answers with the same structured output
type fixedModel struct {
	mu       sync.Mutex
	output   string
	requests int
}

func (m *fixedModel) Generate(ctx context.Context, req scanning.Request) (scanning.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	return scanning.Response{Structured: json.RawMessage(m.output)}, nil
}

func (m *fixedModel) Close() error {
	return nil
}

func pngBytes() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}
