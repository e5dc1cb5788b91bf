package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF extracts text one page at a time so page numbers stay exact.
type PDF struct{}

func (PDF) Extract(ctx context.Context, data []byte, pageMin, pageMax int) (ext Extraction, err error) {
	// ledongthuc/pdf panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			err = &ExtractionError{Format: "pdf", Cause: fmt.Errorf("malformed document: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Extraction{}, &ExtractionError{Format: "pdf", Cause: err}
	}

	ext.PageCount = reader.NumPage()
	from, to, ok := pageRange(pageMin, pageMax, ext.PageCount)
	if !ok {
		return ext, nil
	}

	var text strings.Builder
	for i := from; i <= to; i++ {
		if err := ctx.Err(); err != nil {
			return Extraction{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return Extraction{}, &ExtractionError{Format: "pdf", Page: i, Cause: err}
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(pageText)
	}
	ext.Text = text.String()
	return ext, nil
}
