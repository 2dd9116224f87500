package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfText extracts text from a PDF via pdfcpu's content extraction. pdfcpu
// works on files, so the document goes through a temp directory that is
// removed before returning. Pages that yield no content produce no text
// rather than failing the whole document.
func (e *Extractor) pdfText(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	workDir, err := os.MkdirTemp(e.tempDir, "extract-pdf-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inFile := filepath.Join(workDir, "in.pdf")
	if err := os.WriteFile(inFile, data, 0o600); err != nil {
		return "", fmt.Errorf("writing temp pdf: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(inFile)
	if err != nil {
		return "", fmt.Errorf("reading pdf: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(workDir, "pages")
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	if err := api.ExtractContentFile(inFile, outDir, nil, conf); err != nil {
		e.logger.Warn("pdf content extraction failed", "pages", pageCount, "error", err)
		return "", nil
	}

	pageTexts := make(map[int]string)
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("reading extracted pages: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		pageNum, ok := pageNumber(entry.Name())
		if !ok {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			continue
		}
		pageTexts[pageNum] = string(content)
	}

	var b strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text := strings.TrimSpace(pageTexts[pageNum])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// pageNumber parses the page index out of pdfcpu's extracted content file
// names, which vary across versions.
func pageNumber(name string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(name, "page_%d", &n); err == nil {
		return n, true
	}
	if _, err := fmt.Sscanf(name, "Content_page_%d", &n); err == nil {
		return n, true
	}
	return 0, false
}
