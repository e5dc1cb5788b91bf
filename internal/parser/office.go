package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

// DOCX has no page model, so the whole document is page 1.
type DOCX struct{}

func (DOCX) Extract(_ context.Context, data []byte, pageMin, pageMax int) (Extraction, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Extraction{}, &ExtractionError{Format: "docx", Cause: err}
	}
	defer r.Close()

	text := extractTextFromXML(r.Editable().GetContent(), "w:t", "</w:p>")
	return joinPages([]string{text}, pageMin, pageMax), nil
}

// PPTX treats each slide as a page, ordered by slide number.
type PPTX struct{}

func (PPTX) Extract(_ context.Context, data []byte, pageMin, pageMax int) (Extraction, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Extraction{}, &ExtractionError{Format: "pptx", Cause: err}
	}

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range zr.File {
		num, ok := slideNumber(file.Name)
		if !ok {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return Extraction{}, &ExtractionError{Format: "pptx", Page: num, Cause: err}
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return Extraction{}, &ExtractionError{Format: "pptx", Page: num, Cause: err}
		}
		slides = append(slides, slide{num: num, text: extractTextFromXML(string(raw), "a:t", "</a:p>")})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	pages := make([]string, len(slides))
	for i, s := range slides {
		pages[i] = s.text
	}
	return joinPages(pages, pageMin, pageMax), nil
}

// slideNumber parses "ppt/slides/slideN.xml".
func slideNumber(name string) (int, bool) {
	const prefix, suffix = "ppt/slides/slide", ".xml"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// XLSX treats each sheet as a page.
type XLSX struct{}

func (XLSX) Extract(_ context.Context, data []byte, pageMin, pageMax int) (Extraction, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return Extraction{}, &ExtractionError{Format: "xlsx", Cause: err}
	}

	pages := make([]string, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			var cells []string
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		pages = append(pages, sheetText(sheet.Name, rows))
	}
	return joinPages(pages, pageMin, pageMax), nil
}

// Spreadsheet reads the remaining workbook formats through excelize, one sheet
// per page.
type Spreadsheet struct{}

func (Spreadsheet) Extract(_ context.Context, data []byte, pageMin, pageMax int) (Extraction, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Extraction{}, &ExtractionError{Format: "spreadsheet", Cause: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	pages := make([]string, len(sheets))
	for i, name := range sheets {
		rows, err := f.GetRows(name)
		if err != nil {
			return Extraction{}, &ExtractionError{Format: "spreadsheet", Page: i + 1, Cause: err}
		}
		pages[i] = sheetText(name, rows)
	}
	return joinPages(pages, pageMin, pageMax), nil
}

// sheetText renders a sheet as "Sheet: name" followed by tab separated rows.
// A sheet without any cell text renders empty so the page is skipped.
func sheetText(name string, rows [][]string) string {
	var body strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
		if line == "" {
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if body.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("Sheet: %s\n%s", name, body.String())
}

// extractTextFromXML collects the character data of every <tag> element and
// starts a new line at each paragraph end marker.
func extractTextFromXML(content, tag, paragraphEnd string) string {
	var text strings.Builder
	open, closing := "<"+tag, "</"+tag+">"
	for _, para := range strings.Split(content, paragraphEnd) {
		var line strings.Builder
		rest := para
		for {
			start := strings.Index(rest, open)
			if start < 0 {
				break
			}
			rest = rest[start+len(open):]
			// skip attributes and reject longer tag names such as <w:tab>
			gt := strings.Index(rest, ">")
			if gt < 0 {
				break
			}
			if gt > 0 && rest[0] != ' ' || strings.HasSuffix(rest[:gt], "/") {
				rest = rest[gt+1:]
				continue
			}
			rest = rest[gt+1:]
			end := strings.Index(rest, closing)
			if end < 0 {
				break
			}
			line.WriteString(html.UnescapeString(rest[:end]))
			rest = rest[end+len(closing):]
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			text.WriteString(s)
			text.WriteString("\n")
		}
	}
	return strings.TrimRight(text.String(), "\n")
}
