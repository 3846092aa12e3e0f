package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/zombor/receipt-agent/internal/receipt"
)

// Exit codes returned by LocalDelivery.Run
const (
	ExitOK      = 0
	ExitFailure = 1
)

// LocalDelivery extracts a receipt from a file and prints it as plain text
type LocalDelivery struct {
	extractor Extractor
	formatter *receipt.Formatter
	stdout    io.Writer
	stderr    io.Writer
	readFile  func(string) ([]byte, error)
}

// NewLocalDelivery creates a LocalDelivery writing to stdout and stderr
func NewLocalDelivery(extractor Extractor, formatter *receipt.Formatter, stdout, stderr io.Writer) *LocalDelivery {
	return &LocalDelivery{
		extractor: extractor,
		formatter: formatter,
		stdout:    stdout,
		stderr:    stderr,
		readFile:  os.ReadFile,
	}
}

// Run processes the file at path and returns the process exit code.
// Success and NotAReceipt exit 0; any failure exits 1.
func (d *LocalDelivery) Run(ctx context.Context, path string) int {
	data, err := d.readFile(path)
	if err != nil {
		slog.Error("Failed to read receipt file", "path", path, "error", err)
		fmt.Fprintf(d.stderr, "error: cannot read %s: %v\n", path, unwrapPathError(err))
		return ExitFailure
	}

	mimeType := detectMIMEType(path, data)
	slog.Info("Extracting receipt", "path", path, "content_type", mimeType, "file_size", len(data))

	outcome := d.extractor.Extract(ctx, data, mimeType)
	fmt.Fprintln(d.stdout, d.formatter.Format(outcome, receipt.Plain))

	if _, failed := outcome.(receipt.Failure); failed {
		return ExitFailure
	}
	return ExitOK
}

// detectMIMEType uses the file extension, falling back to content sniffing
func detectMIMEType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func unwrapPathError(err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}
