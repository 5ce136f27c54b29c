// Package extract pulls plain text out of uploaded financial documents.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a document parses but yields no extractable
// text, which usually means a scanned or corrupted PDF.
var ErrNoText = errors.New("no text could be extracted: document may be image-based or corrupted")

// TextExtractor converts a staged document into plain text for analysis.
type TextExtractor interface {
	Extract(path string) (string, error)
}

// PDFExtractor extracts text from PDF files
type PDFExtractor struct {
	logger *slog.Logger
}

// NewPDFExtractor creates a new PDF text extractor
func NewPDFExtractor(logger *slog.Logger) *PDFExtractor {
	return &PDFExtractor{logger: logger}
}

// Extract reads every page of the PDF at path and returns the concatenated
// text. The underlying parser panics on some malformed documents, so the
// panic is converted into an ordinary error here.
func (e *PDFExtractor) Extract(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var builder strings.Builder
	totalPages := reader.NumPage()

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		content, pageErr := page.GetPlainText(nil)
		if pageErr != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %w", pageNum, pageErr)
		}

		builder.WriteString(normalizeText(content))
		builder.WriteString("\n")
	}

	text = builder.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}

	e.logger.Debug("Extracted text from PDF",
		slog.String("path", path),
		slog.Int("pages", totalPages),
		slog.Int("characters", len(text)),
	)

	return text, nil
}

// normalizeText collapses runs of blank lines down to single newlines.
func normalizeText(content string) string {
	for strings.Contains(content, "\n\n") {
		content = strings.ReplaceAll(content, "\n\n", "\n")
	}
	return content
}
