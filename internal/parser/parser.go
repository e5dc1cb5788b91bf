// Package parser extracts page-scoped plain text from uploaded documents.
package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// AllPages as pageMax extracts through the last page.
const AllPages = 0

// Extraction is the text of the requested page range and the document's total
// page count.
type Extraction struct {
	Text      string
	PageCount int
}

// Extractor returns the text of pages [pageMin, pageMax] (1-based, inclusive)
// from raw document bytes. Pages outside the document contribute no text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, pageMin, pageMax int) (Extraction, error)
}

// ExtractionError reports an unreadable or unparsable document. Page is 0 when
// the failure is not tied to a single page.
type ExtractionError struct {
	Format string
	Page   int
	Cause  error
}

func (e *ExtractionError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("extract %s page %d: %v", e.Format, e.Page, e.Cause)
	}
	return fmt.Sprintf("extract %s: %v", e.Format, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// ErrUnsupportedFormat is returned by ForFile for unknown extensions.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ForFile picks an extractor from the file name's extension.
func ForFile(filename string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return PDF{}, nil
	case ".docx":
		return DOCX{}, nil
	case ".pptx":
		return PPTX{}, nil
	case ".xlsx":
		return XLSX{}, nil
	case ".xlsm", ".xltx", ".xltm", ".ods":
		return Spreadsheet{}, nil
	case ".md", ".markdown":
		return Markdown{}, nil
	case ".txt":
		return Text{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// SupportedExtensions lists the extensions ForFile accepts.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx", ".xltm", ".ods", ".md", ".markdown", ".txt"}
}

// pageRange clamps [pageMin, pageMax] to [1, count]. ok is false when the range
// selects nothing.
func pageRange(pageMin, pageMax, count int) (from, to int, ok bool) {
	from, to = pageMin, pageMax
	if from < 1 {
		from = 1
	}
	if to <= AllPages || to > count {
		to = count
	}
	return from, to, from <= to
}

// joinPages concatenates the selected pages of an already split document.
func joinPages(pages []string, pageMin, pageMax int) Extraction {
	out := Extraction{PageCount: len(pages)}
	from, to, ok := pageRange(pageMin, pageMax, len(pages))
	if !ok {
		return out
	}
	out.Text = strings.Join(pages[from-1:to], "\n")
	return out
}
