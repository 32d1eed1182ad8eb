// receipt-batch processes uploaded receipts through the OCR and extraction
// pipeline. Receipts are selected by explicit ids or by status; results can
// optionally be exported to an XLSX file.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pantrybot/receipt-pipeline/constants"
	"github.com/pantrybot/receipt-pipeline/internal/cache"
	"github.com/pantrybot/receipt-pipeline/internal/common"
	"github.com/pantrybot/receipt-pipeline/internal/export"
	"github.com/pantrybot/receipt-pipeline/internal/filecheck"
	"github.com/pantrybot/receipt-pipeline/internal/ingest"
	"github.com/pantrybot/receipt-pipeline/internal/llm"
	"github.com/pantrybot/receipt-pipeline/internal/llm/ollama"
	"github.com/pantrybot/receipt-pipeline/internal/monitoring"
	"github.com/pantrybot/receipt-pipeline/internal/notify"
	"github.com/pantrybot/receipt-pipeline/internal/ocr"
	"github.com/pantrybot/receipt-pipeline/internal/pipeline"
	"github.com/pantrybot/receipt-pipeline/internal/repository"
	"github.com/pantrybot/receipt-pipeline/internal/validate"
)

func main() {
	var (
		ingestFlag = flag.String("ingest", "", "register receipt files from this directory before processing")
		idsFlag    = flag.String("ids", "", "comma-separated receipt ids to process")
		statusFlag = flag.String("status", string(constants.StatusUploaded), "process all receipts in this status (ignored when -ids is set)")
		limitFlag  = flag.Int("limit", 100, "maximum receipts to pick up by status")
		exportFlag = flag.String("export", "", "write an XLSX of ready-for-review receipts to this path after processing")
		debugFlag  = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debugFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := repository.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := repository.NewPostgresReceiptRepository(pool, logger)

	var receiptCache cache.Cache = cache.Disabled()
	if cfg.Cache.Enabled {
		bc, err := cache.NewBadgerCache(cache.Options{
			Dir:    cfg.Cache.Dir,
			OCRTTL: cfg.Cache.OCRTTL,
			LLMTTL: cfg.Cache.LLMTTL,
		}, logger)
		if err != nil {
			logger.Warn("cache unavailable, continuing without it", "error", err)
		} else {
			receiptCache = bc
			defer func() {
				if cerr := bc.Close(); cerr != nil {
					logger.Warn("close cache", "error", cerr)
				}
			}()
		}
	}

	fileValidator := filecheck.NewValidator(filecheck.Config{
		MaxFileSize:       cfg.File.MaxFileSize,
		AllowedExtensions: toSet(cfg.File.AllowedExtensions),
		AllowedMIMETypes:  toSet(cfg.File.AllowedMIMETypes),
	}, logger)

	extractor := ocr.NewExtractor(ocr.Config{
		Tesseract:   cfg.OCR.Tesseract,
		Pdftoppm:    cfg.OCR.Pdftoppm,
		Languages:   cfg.OCR.Languages,
		DPI:         cfg.OCR.DPI,
		MaxPages:    cfg.OCR.MaxPages,
		InitTimeout: cfg.OCR.InitTimeout,
	}, receiptCache, logger)

	chatClient := ollama.NewClient(ollama.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, logger)
	llmService := llm.NewService(chatClient, receiptCache, cfg.LLM.Model, cfg.LLM.MaxRetries, logger)

	monitor := monitoring.NewMonitor(cfg.Processing.EnablePerformanceMonitoring)

	processor := pipeline.NewProcessor(
		repo,
		fileValidator,
		extractor,
		llmService,
		validate.NewValidator(logger),
		notify.NewLogNotifier(logger),
		monitor,
		pipeline.Options{
			MaxConcurrent:    cfg.Processing.MaxConcurrent,
			EnableValidation: cfg.Processing.EnableValidation,
		},
		logger,
	)

	if *ingestFlag != "" {
		ingestor := ingest.NewIngestor(repo, fileValidator, logger)
		if _, _, err := ingestor.IngestDirectory(ctx, *ingestFlag); err != nil {
			logger.Error("ingest failed", "root", *ingestFlag, "error", err)
			os.Exit(1)
		}
	}

	ids, err := selectReceipts(ctx, repo, *idsFlag, *statusFlag, *limitFlag)
	if err != nil {
		logger.Error("select receipts", "error", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		logger.Info("nothing to process")
		return
	}

	start := time.Now()
	results := processor.BatchProcess(ctx, ids)

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	logger.Info("batch finished",
		"total", len(results),
		"succeeded", succeeded,
		"failed", len(results)-succeeded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	for op, stats := range monitor.Summary() {
		logger.Info("batch timing",
			"operation", op,
			"count", stats.Count,
			"avg_ms", stats.Average.Milliseconds(),
			"min_ms", stats.Min.Milliseconds(),
			"max_ms", stats.Max.Milliseconds(),
		)
	}

	if *exportFlag != "" {
		svc := export.NewService(repo, logger)
		data, err := svc.ExportReceiptsXLSX(ctx, []constants.ReceiptStatus{
			constants.StatusReadyForReview, constants.StatusCompleted,
		}, 0)
		if err != nil {
			logger.Error("export failed", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*exportFlag, data, 0o644); err != nil {
			logger.Error("write export file", "path", *exportFlag, "error", err)
			os.Exit(1)
		}
		logger.Info("export written", "path", *exportFlag, "bytes", len(data))
	}
}

func selectReceipts(ctx context.Context, repo repository.ReceiptRepository, idsFlag, statusFlag string, limit int) ([]int64, error) {
	if idsFlag != "" {
		var ids []int64
		for _, part := range strings.Split(idsFlag, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	receipts, err := repo.ListByStatus(ctx, constants.ReceiptStatus(statusFlag), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(receipts))
	for _, r := range receipts {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}
