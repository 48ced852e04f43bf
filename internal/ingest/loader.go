package ingest

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Supported document formats
const (
	FormatMarkdown = "md"
	FormatText     = "txt"
	FormatPDF      = "pdf"
)

// ErrUnsupportedFormat is returned for files with an unknown extension
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Document is a loaded source file
type Document struct {
	Source      string // Absolute path
	Title       string
	Format      string
	Text        string
	ContentHash [32]byte // SHA-256 of the raw file bytes
	SizeBytes   int64
}

// FormatOf returns the document format for path, or "" when unsupported
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".txt", ".text":
		return FormatText
	case ".pdf":
		return FormatPDF
	default:
		return ""
	}
}

// Load reads and extracts the text of a single file
func Load(path string) (*Document, error) {
	format := FormatOf(path)
	if format == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	doc := &Document{
		Source:      abs,
		Format:      format,
		ContentHash: sha256.Sum256(data),
		SizeBytes:   int64(len(data)),
	}

	switch format {
	case FormatPDF:
		doc.Text, err = extractPDFText(data)
		if err != nil {
			return nil, fmt.Errorf("failed to extract pdf text: %w", err)
		}
	default:
		doc.Text = string(data)
	}
	doc.Text = strings.ReplaceAll(doc.Text, "\r\n", "\n")
	doc.Title = extractTitle(doc.Text, format, abs)

	return doc, nil
}

// extractPDFText concatenates the plain text of every readable page.
// Pages that fail to decode are skipped.
func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n\n")
	}

	return builder.String(), nil
}

// extractTitle uses the first markdown heading, the first substantial PDF
// line, or the file name
func extractTitle(text, format, path string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch format {
		case FormatMarkdown:
			if strings.HasPrefix(line, "# ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "# "))
			}
		case FormatPDF:
			if len(line) > 20 {
				return line
			}
		}
	}

	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
