// Package pipeline orchestrates a receipt through validation, OCR, product
// extraction, and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pantrybot/receipt-pipeline/constants"
	"github.com/pantrybot/receipt-pipeline/internal/common"
	"github.com/pantrybot/receipt-pipeline/internal/entity"
	"github.com/pantrybot/receipt-pipeline/internal/llm"
	"github.com/pantrybot/receipt-pipeline/internal/monitoring"
	"github.com/pantrybot/receipt-pipeline/internal/notify"
	"github.com/pantrybot/receipt-pipeline/internal/repository"
	"github.com/pantrybot/receipt-pipeline/internal/textparse"
	"github.com/pantrybot/receipt-pipeline/internal/validate"
)

// FileValidator rejects files that must not enter the pipeline.
type FileValidator interface {
	Validate(path string) error
}

// TextExtractor turns a receipt file into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Options tune the orchestration. Validation is advisory: its findings are
// logged and notified but never block a receipt.
type Options struct {
	MaxConcurrent    int
	EnableValidation bool
}

// Processor drives one receipt at a time through the pipeline stages and
// records the outcome on the receipt row. All collaborators are injected.
type Processor struct {
	repo      repository.ReceiptRepository
	files     FileValidator
	ocr       TextExtractor
	extractor llm.ProductExtractor
	validator *validate.Validator
	notifier  notify.Notifier
	monitor   *monitoring.Monitor
	opts      Options
	logger    *slog.Logger
}

func NewProcessor(
	repo repository.ReceiptRepository,
	files FileValidator,
	ocr TextExtractor,
	extractor llm.ProductExtractor,
	validator *validate.Validator,
	notifier notify.Notifier,
	monitor *monitoring.Monitor,
	opts Options,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if monitor == nil {
		monitor = monitoring.NewMonitor(false)
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Processor{
		repo:      repo,
		files:     files,
		ocr:       ocr,
		extractor: extractor,
		validator: validator,
		notifier:  notifier,
		monitor:   monitor,
		opts:      opts,
		logger:    logger,
	}
}

// ProcessReceipt runs the full pipeline for one receipt and reports
// success. Failures are recorded on the receipt row; no error escapes.
func (p *Processor) ProcessReceipt(ctx context.Context, id int64) (ok bool) {
	stopTotal := p.monitor.Start("process_receipt")
	defer stopTotal()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor.panic", "receipt_id", id, "panic", r)
			p.recordFailure(ctx, id, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()

	receipt, err := p.repo.GetByID(ctx, id)
	if err != nil {
		p.logger.Error("processor.fetch_failed", "receipt_id", id, "error", err)
		return false
	}
	if receipt == nil {
		p.logger.Error("processor.not_found", "receipt_id", id)
		return false
	}

	claimed, err := p.repo.ClaimForProcessing(ctx, id)
	if err != nil {
		p.logger.Error("processor.claim_failed", "receipt_id", id, "error", err)
		return false
	}
	if !claimed {
		p.logger.Warn("processor.already_claimed", "receipt_id", id)
		return false
	}
	p.notifier.StatusUpdate(id, constants.StatusOCRInProgress, "processing started", 10)

	if err := p.files.Validate(receipt.FilePath); err != nil {
		p.recordFailure(ctx, id, err)
		return false
	}

	text, err := p.runOCR(ctx, receipt.FilePath)
	if err != nil {
		p.recordFailure(ctx, id, err)
		return false
	}
	if err := p.repo.UpdateOCRResult(ctx, id, text); err != nil {
		p.recordFailure(ctx, id, err)
		return false
	}
	p.notifier.StatusUpdate(id, constants.StatusOCRDone, "text extracted", 50)

	if err := p.repo.UpdateStatus(ctx, id, constants.StatusLLMInProgress, ""); err != nil {
		p.recordFailure(ctx, id, err)
		return false
	}
	p.notifier.StatusUpdate(id, constants.StatusLLMInProgress, "extracting products", 60)

	stopLLM := p.monitor.Start("llm")
	products, err := p.extractor.ExtractProducts(ctx, text)
	stopLLM()
	if err != nil {
		p.recordFailure(ctx, id, err)
		return false
	}
	if len(products) == 0 {
		p.recordFailure(ctx, id, &common.LLMError{Err: errors.New("no products extracted from receipt text")})
		return false
	}
	p.notifier.StatusUpdate(id, constants.StatusLLMInProgress, fmt.Sprintf("%d products extracted", len(products)), 80)

	if p.opts.EnableValidation && p.validator != nil {
		p.runValidation(id, text, products)
	}

	if err := p.repo.UpdateExtractionResult(ctx, id, products); err != nil {
		p.recordFailure(ctx, id, err)
		return false
	}
	p.notifier.StatusUpdate(id, constants.StatusReadyForReview, "ready for review", 100)
	p.logger.Info("processor.ok", "receipt_id", id, "products", len(products))
	return true
}

// runOCR treats an empty extraction as a stage failure: the pipeline has
// nothing to hand to the extraction stage. Caching lives inside the
// extractor itself.
func (p *Processor) runOCR(ctx context.Context, path string) (string, error) {
	stop := p.monitor.Start("ocr")
	defer stop()

	text, err := p.ocr.Extract(ctx, path)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", &common.OCRError{Path: path, Err: errors.New("text extraction produced no text")}
	}
	p.logger.Info("processor.ocr.ok", "chars", len(text))
	return text, nil
}

// runValidation is advisory. Findings are logged and low confidence is
// surfaced through the notifier; the stored products are never rewritten.
func (p *Processor) runValidation(id int64, text string, products []entity.ProductEntry) {
	stop := p.monitor.Start("validation")
	defer stop()

	parsed := textparse.Parse(text)
	data := validate.ReceiptData{
		StoreName:       parsed.StoreName,
		TransactionDate: parsed.Date,
		Products:        products,
	}
	if parsed.TotalAmount > 0 {
		data.TotalAmount = &parsed.TotalAmount
	}

	result := p.validator.Validate(text, data)
	for _, issue := range result.Issues {
		p.logger.Warn("processor.validation.issue",
			"receipt_id", id,
			"severity", issue.Severity,
			"code", issue.Code,
			"message", issue.Message,
		)
	}
	if result.CorrectedData != nil && result.CorrectedData.TotalAmount != nil {
		p.logger.Info("processor.validation.total_corrected",
			"receipt_id", id,
			"corrected_total", *result.CorrectedData.TotalAmount,
		)
	}
	p.notifier.StatusUpdate(id, constants.StatusLLMInProgress,
		fmt.Sprintf("validation confidence %.2f", result.ConfidenceScore), 90)
}

func (p *Processor) recordFailure(ctx context.Context, id int64, err error) {
	message := failureMessage(err)
	p.logger.Error("processor.stage_failed", "receipt_id", id, "error", err)

	if dbErr := p.repo.MarkError(ctx, id, message); dbErr != nil {
		p.logger.Error("processor.mark_error_failed", "receipt_id", id, "error", dbErr)
	}
	p.notifier.Error(id, message)
}

// failureMessage prefixes the persisted error message with the failing
// stage so a glance at the row identifies where processing stopped.
func failureMessage(err error) string {
	var (
		fileErr *common.FileValidationError
		ocrErr  *common.OCRError
		llmErr  *common.LLMError
		dbErr   *common.DatabaseError
	)
	switch {
	case errors.As(err, &fileErr):
		return "File validation error: " + err.Error()
	case errors.As(err, &ocrErr):
		return "OCR error: " + err.Error()
	case errors.As(err, &llmErr):
		return "LLM error: " + err.Error()
	case errors.As(err, &dbErr):
		return "Database error: " + err.Error()
	default:
		return "Unexpected error: " + err.Error()
	}
}
