package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pantrybot/receipt-pipeline/constants"
	"github.com/pantrybot/receipt-pipeline/internal/common"
	"github.com/pantrybot/receipt-pipeline/internal/entity"
)

// ReceiptRepository is the persistence contract of the pipeline. GetByID
// returns (nil, nil) for a missing receipt so callers can distinguish
// absence from failure without unwrapping.
type ReceiptRepository interface {
	Create(ctx context.Context, filePath string) (*entity.Receipt, error)
	GetByID(ctx context.Context, id int64) (*entity.Receipt, error)
	UpdateStatus(ctx context.Context, id int64, status constants.ReceiptStatus, errorMessage string) error
	ClaimForProcessing(ctx context.Context, id int64) (bool, error)
	UpdateOCRResult(ctx context.Context, id int64, text string) error
	UpdateExtractionResult(ctx context.Context, id int64, products []entity.ProductEntry) error
	MarkCompleted(ctx context.Context, id int64) error
	MarkError(ctx context.Context, id int64, message string) error
	BulkUpdateStatus(ctx context.Context, ids []int64, status constants.ReceiptStatus) (int64, error)
	ListByStatus(ctx context.Context, status constants.ReceiptStatus, limit int) ([]*entity.Receipt, error)
	ListRecent(ctx context.Context, limit int) ([]*entity.Receipt, error)
	Statistics(ctx context.Context) (*entity.Statistics, error)
}

const receiptColumns = `id, status, file_path, raw_ocr_text, extracted_data, error_message,
	uploaded_at, processed_at, completed_at`

// PostgresReceiptRepository implements ReceiptRepository on pgx.
type PostgresReceiptRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresReceiptRepository(db *pgxpool.Pool, logger *slog.Logger) *PostgresReceiptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresReceiptRepository{db: db, logger: logger}
}

func (r *PostgresReceiptRepository) Create(ctx context.Context, filePath string) (*entity.Receipt, error) {
	receipt := &entity.Receipt{
		Status:   constants.StatusUploaded,
		FilePath: filePath,
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO receipts (status, file_path)
		VALUES ($1, $2)
		RETURNING id, uploaded_at
	`, receipt.Status, filePath).Scan(&receipt.ID, &receipt.UploadedAt)
	if err != nil {
		return nil, &common.DatabaseError{Op: "create", Err: err}
	}
	r.logger.Info("receipt created", "receipt_id", receipt.ID, "file_path", filePath)
	return receipt, nil
}

func (r *PostgresReceiptRepository) GetByID(ctx context.Context, id int64) (*entity.Receipt, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE id = $1
	`, id)

	receipt, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &common.DatabaseError{ReceiptID: id, Op: "get", Err: err}
	}
	return receipt, nil
}

func (r *PostgresReceiptRepository) UpdateStatus(ctx context.Context, id int64, status constants.ReceiptStatus, errorMessage string) error {
	var errMsg *string
	if errorMessage != "" {
		errMsg = &errorMessage
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE receipts
		SET status = $2, error_message = $3
		WHERE id = $1
	`, id, status, errMsg)
	if err != nil {
		return &common.DatabaseError{ReceiptID: id, Op: "update_status", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &common.DatabaseError{ReceiptID: id, Op: "update_status", Err: common.ErrNotFound}
	}
	r.logger.Debug("receipt status updated", "receipt_id", id, "status", status)
	return nil
}

// ClaimForProcessing atomically moves a receipt into ocr_in_progress. Two
// workers racing on the same id cannot both win: the conditional UPDATE
// succeeds for exactly one of them and the loser sees claimed=false.
func (r *PostgresReceiptRepository) ClaimForProcessing(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE receipts
		SET status = $2, error_message = NULL
		WHERE id = $1 AND status NOT IN ($3, $4)
	`, id, constants.StatusOCRInProgress,
		constants.StatusOCRInProgress, constants.StatusLLMInProgress)
	if err != nil {
		return false, &common.DatabaseError{ReceiptID: id, Op: "claim", Err: err}
	}
	claimed := tag.RowsAffected() > 0
	if !claimed {
		r.logger.Warn("receipt already being processed", "receipt_id", id)
	}
	return claimed, nil
}

func (r *PostgresReceiptRepository) UpdateOCRResult(ctx context.Context, id int64, text string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE receipts
		SET status = $2, raw_ocr_text = $3
		WHERE id = $1
	`, id, constants.StatusOCRDone, text)
	if err != nil {
		return &common.DatabaseError{ReceiptID: id, Op: "update_ocr_result", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &common.DatabaseError{ReceiptID: id, Op: "update_ocr_result", Err: common.ErrNotFound}
	}
	return nil
}

func (r *PostgresReceiptRepository) UpdateExtractionResult(ctx context.Context, id int64, products []entity.ProductEntry) error {
	data, err := json.Marshal(products)
	if err != nil {
		return &common.DatabaseError{ReceiptID: id, Op: "update_extraction_result", Err: err}
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE receipts
		SET status = $2, extracted_data = $3, processed_at = $4
		WHERE id = $1
	`, id, constants.StatusReadyForReview, data, time.Now())
	if err != nil {
		return &common.DatabaseError{ReceiptID: id, Op: "update_extraction_result", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &common.DatabaseError{ReceiptID: id, Op: "update_extraction_result", Err: common.ErrNotFound}
	}
	return nil
}

func (r *PostgresReceiptRepository) MarkCompleted(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE receipts
		SET status = $2, completed_at = $3, error_message = NULL
		WHERE id = $1
	`, id, constants.StatusCompleted, time.Now())
	if err != nil {
		return &common.DatabaseError{ReceiptID: id, Op: "mark_completed", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &common.DatabaseError{ReceiptID: id, Op: "mark_completed", Err: common.ErrNotFound}
	}
	return nil
}

func (r *PostgresReceiptRepository) MarkError(ctx context.Context, id int64, message string) error {
	return r.UpdateStatus(ctx, id, constants.StatusError, message)
}

func (r *PostgresReceiptRepository) BulkUpdateStatus(ctx context.Context, ids []int64, status constants.ReceiptStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE receipts
		SET status = $2
		WHERE id = ANY($1)
	`, ids, status)
	if err != nil {
		return 0, &common.DatabaseError{Op: "bulk_update_status", Err: err}
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresReceiptRepository) ListByStatus(ctx context.Context, status constants.ReceiptStatus, limit int) ([]*entity.Receipt, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE status = $1
		ORDER BY uploaded_at
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, &common.DatabaseError{Op: "list_by_status", Err: err}
	}
	defer rows.Close()
	return collectReceipts(rows)
}

func (r *PostgresReceiptRepository) ListRecent(ctx context.Context, limit int) ([]*entity.Receipt, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		ORDER BY uploaded_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, &common.DatabaseError{Op: "list_recent", Err: err}
	}
	defer rows.Close()
	return collectReceipts(rows)
}

func (r *PostgresReceiptRepository) Statistics(ctx context.Context) (*entity.Statistics, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*)
		FROM receipts
		GROUP BY status
	`)
	if err != nil {
		return nil, &common.DatabaseError{Op: "statistics", Err: err}
	}
	defer rows.Close()

	stats := &entity.Statistics{ByStatus: map[constants.ReceiptStatus]int64{}}
	for rows.Next() {
		var status constants.ReceiptStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, &common.DatabaseError{Op: "statistics", Err: err}
		}
		stats.ByStatus[status] = count
		stats.Total += count
		switch status {
		case constants.StatusCompleted:
			stats.Completed = count
		case constants.StatusError:
			stats.Errors = count
		case constants.StatusReadyForReview:
			stats.ReadyForReview = count
		default:
			stats.Pending += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &common.DatabaseError{Op: "statistics", Err: err}
	}

	if done := stats.Completed + stats.Errors; done > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(done)
	}
	return stats, nil
}

func scanReceipt(row pgx.Row) (*entity.Receipt, error) {
	var receipt entity.Receipt
	var extracted []byte
	err := row.Scan(
		&receipt.ID, &receipt.Status, &receipt.FilePath, &receipt.RawOCRText,
		&extracted, &receipt.ErrorMessage,
		&receipt.UploadedAt, &receipt.ProcessedAt, &receipt.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &receipt.ExtractedData); err != nil {
			return nil, fmt.Errorf("decode extracted_data: %w", err)
		}
	}
	return &receipt, nil
}

func collectReceipts(rows pgx.Rows) ([]*entity.Receipt, error) {
	var receipts []*entity.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, &common.DatabaseError{Op: "scan", Err: err}
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, &common.DatabaseError{Op: "rows", Err: err}
	}
	return receipts, nil
}
