package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/pantrybot/receipt-pipeline/constants"
	"github.com/pantrybot/receipt-pipeline/internal/cache"
	"github.com/pantrybot/receipt-pipeline/internal/common"
)

type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"

	Languages   []string // tesseract language codes, joined with "+"
	DPI         int      // rasterization DPI for scanned PDFs, default 300
	MaxPages    int      // 0 = no limit
	InitTimeout time.Duration
}

// Extractor turns a receipt file into plain text. PDFs are read from their
// text layer first; pages without one are rasterized and run through
// tesseract. Results are served from the content-addressed cache when the
// same file bytes were extracted before. An empty result is not an error:
// the receipt is a photo with nothing decodable, and the caller decides
// what that means.
type Extractor struct {
	cfg    Config
	engine *engine
	runner Runner
	cache  cache.Cache
	logger *slog.Logger
}

func NewExtractor(cfg Config, c cache.Cache, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.Disabled()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"pol", "eng"}
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 30 * time.Second
	}
	runner := newExecRunner(logger)
	return &Extractor{
		cfg:    cfg,
		engine: newEngine(cfg.Tesseract, cfg.InitTimeout, runner, logger),
		runner: runner,
		cache:  c,
		logger: logger,
	}
}

func (e *Extractor) lang() string {
	return strings.Join(e.cfg.Languages, "+")
}

// Extract picks a strategy based on file extension. It returns ("", nil)
// when extraction worked but found no text.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	e.logger.Debug("starting text extraction", "path", path, "ext", ext)

	fileHash, err := cache.FileHash(path)
	if err != nil {
		// hashing trouble only disables the cache for this extraction
		e.logger.Warn("ocr.hash_failed", "path", path, "error", err)
		fileHash = ""
	}
	if fileHash != "" {
		if text, ok := e.cache.GetOCR(fileHash); ok {
			e.logger.Info("ocr.cache_hit", "file_hash", fileHash[:8])
			return text, nil
		}
	}

	var (
		text   string
		method string
	)
	switch constants.MapExtToFormat(ext) {
	case constants.PDF:
		text, method, err = e.extractPDF(ctx, path)
	case constants.IMAGE:
		text, err = e.extractImage(ctx, path)
		method = "image-ocr"
	default:
		return "", &common.OCRError{Path: path, Err: fmt.Errorf("unsupported extension: %q", ext)}
	}
	if err != nil {
		return "", &common.OCRError{Path: path, Err: err}
	}

	text = Normalize(text)
	if fileHash != "" && text != "" {
		e.cache.PutOCR(fileHash, text)
	}
	e.logger.Info("text extraction done",
		"path", path,
		"method", method,
		"chars", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}
