// Package extract converts uploaded documents into plain text suitable for
// indexing. Plain text, markdown and HTML extract faithfully; PDF is best
// effort and always carries a fidelity warning. Binary word-processor
// formats are rejected so callers can tell users to paste content instead.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// ErrUnsupportedFormat is returned for formats no extractor handles.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Format is a supported input document format.
type Format string

const (
	FormatPlain    Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

// Warning texts attached to degraded extractions.
const (
	WarnPDFFidelity  = "pdf text extraction is best effort; review the extracted text"
	WarnInvalidUTF8  = "input contained invalid utf-8 sequences that were replaced"
	WarnEmptyContent = "no text content could be extracted"
)

// Result is extracted text plus any fidelity warnings. Warnings never fail
// the extraction; callers surface them alongside the stored document.
type Result struct {
	Text     string
	Warnings []string
}

// FormatFromMIME maps a MIME type to a Format. Word-processor types map to
// ErrUnsupportedFormat with a hint, matching the upload paths that accept
// the file but cannot read it.
func FormatFromMIME(mimeType string) (Format, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}

	switch mt {
	case "text/plain", "":
		return FormatPlain, nil
	case "text/markdown", "text/x-markdown":
		return FormatMarkdown, nil
	case "text/html", "application/xhtml+xml":
		return FormatHTML, nil
	case "application/pdf":
		return FormatPDF, nil
	}
	if strings.Contains(mt, "word") {
		return "", fmt.Errorf("%w: %s (paste the document text instead)", ErrUnsupportedFormat, mt)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt)
}

// FormatFromFilename maps a file extension to a Format.
func FormatFromFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".text", "":
		return FormatPlain, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".pdf":
		return FormatPDF, nil
	case ".doc", ".docx":
		return "", fmt.Errorf("%w: %s (paste the document text instead)", ErrUnsupportedFormat, name)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// Extractor extracts plain text from documents.
type Extractor struct {
	logger  *slog.Logger
	tempDir string
}

// NewExtractor creates an Extractor. logger may be nil.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger, tempDir: os.TempDir()}
}

// Extract converts data in the given format to normalized plain text.
// Empty input is valid and yields an empty result with a warning.
func (e *Extractor) Extract(ctx context.Context, data []byte, format Format) (*Result, error) {
	res := &Result{}

	if !utf8.Valid(data) && format != FormatPDF {
		data = bytes.ToValidUTF8(data, []byte("�"))
		res.Warnings = append(res.Warnings, WarnInvalidUTF8)
	}

	var (
		text string
		err  error
	)
	switch format {
	case FormatPlain:
		text = string(data)
	case FormatMarkdown:
		text, err = e.markdownText(data)
	case FormatHTML:
		text, err = htmlText(bytes.NewReader(data))
	case FormatPDF:
		text, err = e.pdfText(ctx, data)
		res.Warnings = append(res.Warnings, WarnPDFFidelity)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	res.Text = normalize(text)
	if res.Text == "" {
		res.Warnings = append(res.Warnings, WarnEmptyContent)
	}

	e.logger.Debug("text extracted",
		"format", format, "input_bytes", len(data),
		"output_chars", len(res.Text), "warnings", len(res.Warnings))
	return res, nil
}

// markdownText renders markdown to HTML with GFM extensions and strips the
// markup, so tables and lists keep their cell and item text.
func (e *Extractor) markdownText(data []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	var buf bytes.Buffer
	if err := md.Convert(data, &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return htmlText(&buf)
}

// htmlText parses HTML and returns the visible text with script, style and
// head noise removed.
func htmlText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	doc.Find("script, style, noscript, head, template").Remove()

	var b strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.Text())
	})
	if b.Len() == 0 {
		return doc.Text(), nil
	}
	return b.String(), nil
}

// normalize trims lines, strips NUL bytes (PostgreSQL TEXT rejects them)
// and collapses runs of blank lines.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	var out []string
	blanks := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blanks++
			if blanks > 1 {
				continue
			}
			line = ""
		} else {
			blanks = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
