// runocr extracts text from a single receipt file and prints it. Useful
// for checking OCR quality without touching the database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pantrybot/receipt-pipeline/internal/common"
	"github.com/pantrybot/receipt-pipeline/internal/filecheck"
	"github.com/pantrybot/receipt-pipeline/internal/ocr"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <file-path>")
		os.Exit(2)
	}
	path := os.Args[1]

	cfg := common.LoadConfig()

	validator := filecheck.NewValidator(filecheck.Config{
		MaxFileSize: cfg.File.MaxFileSize,
	}, logger)
	if err := validator.Validate(path); err != nil {
		logger.Error("file rejected", "error", err)
		os.Exit(1)
	}

	extractor := ocr.NewExtractor(ocr.Config{
		Tesseract:   cfg.OCR.Tesseract,
		Pdftoppm:    cfg.OCR.Pdftoppm,
		Languages:   cfg.OCR.Languages,
		DPI:         cfg.OCR.DPI,
		MaxPages:    cfg.OCR.MaxPages,
		InitTimeout: cfg.OCR.InitTimeout,
	}, nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	text, err := extractor.Extract(ctx, path)
	if err != nil {
		logger.Error("text extraction failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		os.Exit(1)
	}

	logger.Info("text extraction OK",
		"chars", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	fmt.Println(text)
}
