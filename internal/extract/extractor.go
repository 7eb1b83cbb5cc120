// Package extract reads the text of files holding pasted report lines.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lu4p/cat"
	"go.uber.org/zap"
)

// Extractor extracts plain text from document files.
type Extractor struct {
	logger *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extensions lists the extensions with a dedicated reader. Anything else is read as text.
func Extensions() []string {
	return []string{".txt", ".log", ".md", ".pdf", ".docx", ".odt", ".rtf", ".xlsx"}
}

// Extract reads the file at path and returns its text, one report per line where the
// format has lines (paragraphs for documents, rows for spreadsheets).
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e.logger.Debug("Extracting text", zap.String("path", path), zap.String("ext", ext))
	switch ext {
	case ".odt", ".rtf":
		text, err := cat.File(path)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", ext, err)
		}
		return normalizeNewlines(text), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). ODT and RTF need a path; use Extract.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = extractPDF(content)
	case ".docx":
		text, err = extractDOCX(content)
	case ".xlsx":
		text, err = extractExcel(content)
	case ".odt", ".rtf":
		return "", fmt.Errorf("extract %s: only supported from a file", ext)
	default:
		text, err = extractPlain(content)
	}
	if err != nil {
		return "", err
	}
	return normalizeNewlines(text), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
