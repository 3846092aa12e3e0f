package scanning

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"sync"

	. "github.com/onsi/gomega"
)

// stubModel records every request and answers with a canned response
type stubModel struct {
	mu       sync.Mutex
	requests []Request
	response Response
	err      error
	block    bool
	closed   bool
}

func (m *stubModel) Generate(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}
	return m.response, m.err
}

func (m *stubModel) Close() error {
	m.closed = true
	return nil
}

func (m *stubModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 255, G: uint8(x * 40), B: uint8(y * 40), A: 255})
		}
	}
	return img
}

func pngBytes() []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, testImage())).To(Succeed())
	return buf.Bytes()
}

func gifBytes() []byte {
	var buf bytes.Buffer
	Expect(gif.Encode(&buf, testImage(), nil)).To(Succeed())
	return buf.Bytes()
}
