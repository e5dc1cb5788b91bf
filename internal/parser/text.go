package parser

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var errInvalidUTF8 = errors.New("content is not valid UTF-8")

// pageBreak is the form feed that plain-text exports use between pages.
const pageBreak = "\f"

// Text splits plain text into pages on form feeds; without any it is one page.
type Text struct{}

func (Text) Extract(_ context.Context, data []byte, pageMin, pageMax int) (Extraction, error) {
	if !utf8.Valid(data) {
		return Extraction{}, &ExtractionError{Format: "txt", Cause: errInvalidUTF8}
	}
	return joinPages(strings.Split(string(data), pageBreak), pageMin, pageMax), nil
}

// Markdown renders the markdown AST down to its text content as a single page.
type Markdown struct{}

func (Markdown) Extract(_ context.Context, data []byte, pageMin, pageMax int) (Extraction, error) {
	if !utf8.Valid(data) {
		return Extraction{}, &ExtractionError{Format: "markdown", Cause: errInvalidUTF8}
	}
	plain, err := markdownToText(data)
	if err != nil {
		return Extraction{}, &ExtractionError{Format: "markdown", Cause: err}
	}
	return joinPages([]string{plain}, pageMin, pageMax), nil
}

func markdownToText(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
				buf.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
