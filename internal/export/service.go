// Package export produces XLSX workbooks from processed receipts.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pantrybot/receipt-pipeline/constants"
	"github.com/pantrybot/receipt-pipeline/internal/repository"
)

// Service is a tiny façade over the repository that produces XLSX bytes.
type Service struct {
	repo   repository.ReceiptRepository
	logger *slog.Logger
}

func NewService(repo repository.ReceiptRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// ExportReceiptsXLSX returns a workbook with one row per extracted product
// for every receipt in the given statuses. A receipt without products still
// gets a single row so it is visible in the export.
func (s *Service) ExportReceiptsXLSX(ctx context.Context, statuses []constants.ReceiptStatus, limit int) ([]byte, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 1000
	}

	f := excelize.NewFile()
	const sheet = "Receipts"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Receipt ID",
		"Status",
		"Uploaded At",
		"Product",
		"Quantity",
		"Unit",
		"Purchase Date",
		"Unit Price",
		"Total Price",
		"File Path",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	receiptCount := 0
	for _, status := range statuses {
		recs, err := s.repo.ListByStatus(ctx, status, limit)
		if err != nil {
			return nil, fmt.Errorf("query receipts: %w", err)
		}
		receiptCount += len(recs)

		for _, r := range recs {
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(sheet, cell, v)
			}
			writeReceipt := func() {
				write(1, r.ID)
				write(2, string(r.Status))
				write(3, r.UploadedAt.Format("2006-01-02 15:04"))
				write(10, r.FilePath)
			}

			if len(r.ExtractedData) == 0 {
				writeReceipt()
				row++
				continue
			}
			for _, p := range r.ExtractedData {
				writeReceipt()
				write(4, p.Name)
				write(5, p.Quantity)
				write(6, p.Unit)
				if p.PurchaseDate != nil {
					write(7, *p.PurchaseDate)
				}
				if p.UnitPrice != nil {
					write(8, *p.UnitPrice)
				}
				if p.TotalPrice != nil {
					write(9, *p.TotalPrice)
				}
				row++
			}
		}
	}

	_ = f.SetColWidth(sheet, "A", "B", 14)
	_ = f.SetColWidth(sheet, "C", "C", 18)
	_ = f.SetColWidth(sheet, "D", "D", 32)
	_ = f.SetColWidth(sheet, "E", "I", 12)
	_ = f.SetColWidth(sheet, "J", "J", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"receipts", receiptCount,
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
