package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/heic"
	_ "golang.org/x/image/webp" // Register WEBP decoder
)

// ErrUnsupportedImage is returned for input that is not a supported raster image
var ErrUnsupportedImage = errors.New("unsupported image format")

// supportedFormats maps image.DecodeConfig format names to MIME types sent to
// the model as-is.
var supportedFormats = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

// preparedImage is image data ready to send to a model
type preparedImage struct {
	data     []byte
	mimeType string
}

// prepareImage sniffs the real format of imageData. JPEG, PNG and WEBP pass
// through unchanged; HEIC/HEIF (common on iPhones) is converted to PNG.
// The declared content type is only consulted as a HEIC hint when the bytes
// match no known format.
func prepareImage(imageData []byte, contentType string) (preparedImage, error) {
	if len(imageData) == 0 {
		return preparedImage{}, fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}

	if isHEICFormat(imageData) {
		return prepareHEIC(imageData)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		if isHEICMimeType(contentType) {
			return prepareHEIC(imageData)
		}
		return preparedImage{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	mimeType, ok := supportedFormats[format]
	if !ok {
		return preparedImage{}, fmt.Errorf("%w: %s", ErrUnsupportedImage, format)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return preparedImage{}, fmt.Errorf("%w: empty %s image", ErrUnsupportedImage, format)
	}
	return preparedImage{data: imageData, mimeType: mimeType}, nil
}

func prepareHEIC(imageData []byte) (preparedImage, error) {
	pngData, err := heicToPNG(imageData)
	if err != nil {
		return preparedImage{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return preparedImage{data: pngData, mimeType: "image/png"}, nil
}

// heicToPNG decodes HEIC/HEIF with the pure Go decoder and encodes it as PNG
func heicToPNG(imageData []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	return encodePNG(img)
}

// imageToPNG converts any registered image format to PNG
func imageToPNG(imageData []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// ftyp box with brand 'heic', 'heix', 'heif', 'mif1', 'msf1' at offset 4
	if string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
