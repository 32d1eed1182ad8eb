package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF reads each page's embedded text layer and falls back to
// rasterized OCR only for the pages that have none. Mixed documents (a
// digital invoice with a scanned attachment) come out right, and purely
// digital PDFs never touch tesseract.
func (e *Extractor) extractPDF(ctx context.Context, path string) (string, string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	numPages := r.NumPage()
	if e.cfg.MaxPages > 0 && numPages > e.cfg.MaxPages {
		e.logger.Warn("pdf truncated to page limit", "path", path, "pages", numPages, "limit", e.cfg.MaxPages)
		numPages = e.cfg.MaxPages
	}

	pageTexts := make([]string, numPages)
	var emptyPages []int
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			emptyPages = append(emptyPages, i)
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("pdf text layer unreadable, will rasterize page", "path", path, "page", i+1, "error", err)
			emptyPages = append(emptyPages, i)
			continue
		}
		if strings.TrimSpace(text) == "" {
			emptyPages = append(emptyPages, i)
			continue
		}
		pageTexts[i] = text
	}

	method := "pdf-text"
	if len(emptyPages) > 0 {
		method = "pdf-ocr"
		if len(emptyPages) < numPages {
			method = "pdf-mixed"
		}
		if err := e.ocrPDFPages(ctx, path, emptyPages, pageTexts); err != nil {
			return "", "", err
		}
	}

	var nonEmpty []string
	for _, t := range pageTexts {
		if strings.TrimSpace(t) != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	return strings.Join(nonEmpty, "\n"), method, nil
}

// ocrPDFPages rasterizes the given zero-based pages one at a time and runs
// tesseract over each, writing results into texts.
func (e *Extractor) ocrPDFPages(ctx context.Context, path string, pages []int, texts []string) error {
	if err := e.engine.ready(ctx); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "receipt-pp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", err)
		}
	}()

	for _, idx := range pages {
		pageNum := idx + 1
		prefix := filepath.Join(tmpDir, fmt.Sprintf("page-%03d", pageNum))
		// pdftoppm -f N -l N -r 300 -png <in.pdf> <tmp/page-NNN>
		_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm,
			"-f", fmt.Sprintf("%d", pageNum),
			"-l", fmt.Sprintf("%d", pageNum),
			"-r", fmt.Sprintf("%d", e.cfg.DPI),
			"-png", path, prefix)
		if err != nil {
			return fmt.Errorf("pdftoppm page %d: %w (%s)", pageNum, err, truncate(string(errb), 512))
		}

		matches, _ := filepath.Glob(prefix + "*.png")
		if len(matches) == 0 {
			e.logger.Warn("pdftoppm produced no image for page", "path", path, "page", pageNum)
			continue
		}
		txt, err := e.tesseractOCR(ctx, matches[0])
		if err != nil {
			return fmt.Errorf("ocr page %d: %w", pageNum, err)
		}
		texts[idx] = txt
	}
	return nil
}
