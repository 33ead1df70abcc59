package parser

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dgallion1/ragingest/internal/fragment"
)

// Parser converts raw document bytes into flat, parent-linked fragments.
type Parser interface {
	Parse(r io.Reader, filename string) ([]fragment.Fragment, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

var fileTypes = map[string]string{
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".csv":      "text/csv",
	".html":     "text/html",
	".htm":      "text/html",
	".pdf":      "application/pdf",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// Extensions returns the supported extensions in sorted order.
func Extensions() []string {
	return slices.Sorted(maps.Keys(SupportedExtensions))
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// FileSource opens files from disk and parses them with the parser matching
// their extension.
type FileSource struct {
	PDFFallbackPdftotext bool
}

// Fragments parses the file at path.
func (s FileSource) Fragments(ctx context.Context, path string) ([]fragment.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := ForFile(path)
	if err != nil {
		return nil, err
	}
	if pdf, ok := p.(*PDFParser); ok {
		pdf.FallbackPdftotext = s.PDFFallbackPdftotext
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return p.Parse(f, path)
}
