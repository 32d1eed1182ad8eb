package entity

import (
	"time"

	"github.com/pantrybot/receipt-pipeline/constants"
)

// Receipt represents one uploaded purchase document and its processing
// state, for data transfer between layers.
type Receipt struct {
	ID            int64                   `json:"id"`
	Status        constants.ReceiptStatus `json:"status"`
	FilePath      string                  `json:"file_path"`
	RawOCRText    *string                 `json:"raw_ocr_text,omitempty"`
	ExtractedData []ProductEntry          `json:"extracted_data,omitempty"`
	ErrorMessage  *string                 `json:"error_message,omitempty"`
	UploadedAt    time.Time               `json:"uploaded_at"`
	ProcessedAt   *time.Time              `json:"processed_at,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// Statistics summarizes receipt processing outcomes.
type Statistics struct {
	Total          int64                             `json:"total"`
	Pending        int64                             `json:"pending"`
	Completed      int64                             `json:"completed"`
	Errors         int64                             `json:"errors"`
	ReadyForReview int64                             `json:"ready_for_review"`
	ByStatus       map[constants.ReceiptStatus]int64 `json:"by_status"`
	SuccessRate    float64                           `json:"success_rate"`
}
