// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Supported output formats.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatSARIF    = "sarif"
)

// Reporter defines the interface for writing a ranked run to an output.
type Reporter interface {
	// Write renders the report.
	Write(report *schemas.RankedReport) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
// An empty path or "stdout" writes to standard output. Parent directories of
// a file path are created.
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory for %s: %w", outputPath, err)
		}
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return newReporter(format, writer, toolVersion, logger), nil
}

// NewForWriter creates a reporter on an existing writer. Closing the
// reporter does not close w.
func NewForWriter(format string, w io.Writer, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	return newReporter(format, &nopWriteCloser{w}, toolVersion, logger), nil
}

func normalizeFormat(format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "md" {
		format = FormatMarkdown
	}
	switch format {
	case FormatMarkdown, FormatJSON, FormatSARIF:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

func newReporter(format string, writer io.WriteCloser, toolVersion string, logger *zap.Logger) Reporter {
	switch format {
	case FormatMarkdown:
		return NewMarkdownReporter(writer, logger)
	case FormatJSON:
		return NewJSONReporter(writer, logger)
	default:
		return NewSARIFReporter(writer, toolVersion, logger)
	}
}

// closeWriter closes w and reports the first of the two errors.
func closeWriter(w io.Closer, writeErr error, logger *zap.Logger) error {
	closeErr := w.Close()
	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
