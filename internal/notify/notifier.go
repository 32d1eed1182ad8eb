// Package notify publishes receipt progress for interested observers. The
// default implementation only logs; a websocket or queue publisher can be
// swapped in behind the same interface.
package notify

import (
	"log/slog"

	"github.com/pantrybot/receipt-pipeline/constants"
)

// Notifier receives progress updates as a receipt moves through the
// pipeline. Implementations must be non-blocking and must never fail the
// caller.
type Notifier interface {
	StatusUpdate(receiptID int64, status constants.ReceiptStatus, message string, progress int)
	Error(receiptID int64, message string)
}

// LogNotifier writes every update to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) StatusUpdate(receiptID int64, status constants.ReceiptStatus, message string, progress int) {
	n.logger.Info("receipt.progress",
		"receipt_id", receiptID,
		"status", status,
		"message", message,
		"progress", progress,
	)
}

func (n *LogNotifier) Error(receiptID int64, message string) {
	n.logger.Error("receipt.failed",
		"receipt_id", receiptID,
		"message", message,
	)
}

// NopNotifier discards all updates.
type NopNotifier struct{}

func (NopNotifier) StatusUpdate(int64, constants.ReceiptStatus, string, int) {}
func (NopNotifier) Error(int64, string)                                      {}
