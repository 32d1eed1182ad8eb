package constants

// ReceiptStatus is the canonical processing status for rows in receipts.
type ReceiptStatus string

// Stable values (store these exact strings in DB).
const (
	StatusUploaded       ReceiptStatus = "uploaded"        // created on upload, not yet picked up
	StatusOCRInProgress  ReceiptStatus = "ocr_in_progress" // text extraction running
	StatusOCRDone        ReceiptStatus = "ocr_done"        // raw text persisted
	StatusLLMInProgress  ReceiptStatus = "llm_in_progress" // product extraction running
	StatusReadyForReview ReceiptStatus = "ready_for_review" // structured data persisted
	StatusCompleted      ReceiptStatus = "completed"       // terminal success
	StatusError          ReceiptStatus = "error"           // terminal failure
)

// nextStatus encodes the forward-only pipeline order. Any status may also
// jump to StatusError.
var nextStatus = map[ReceiptStatus]ReceiptStatus{
	StatusUploaded:       StatusOCRInProgress,
	StatusOCRInProgress:  StatusOCRDone,
	StatusOCRDone:        StatusLLMInProgress,
	StatusLLMInProgress:  StatusReadyForReview,
	StatusReadyForReview: StatusCompleted,
}

// IsTerminal reports whether no further automatic transition occurs.
func (s ReceiptStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// InProgress reports whether a processor run currently owns the receipt.
func (s ReceiptStatus) InProgress() bool {
	return s == StatusOCRInProgress || s == StatusLLMInProgress
}

// CanTransition reports whether moving from -> to is a legal state change.
// Transitions are one-directional; error is reachable from any non-terminal
// state. Retries re-enter the pipeline from scratch via a new claim, not by
// walking statuses backwards.
func CanTransition(from, to ReceiptStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	return nextStatus[from] == to
}

// PipelineOrder returns the position of a status in the success path,
// or -1 for error. Used to assert forward-only movement.
func PipelineOrder(s ReceiptStatus) int {
	switch s {
	case StatusUploaded:
		return 0
	case StatusOCRInProgress:
		return 1
	case StatusOCRDone:
		return 2
	case StatusLLMInProgress:
		return 3
	case StatusReadyForReview:
		return 4
	case StatusCompleted:
		return 5
	default:
		return -1
	}
}

// PendingStatuses are the states counted as "in flight" by statistics.
var PendingStatuses = []ReceiptStatus{StatusUploaded, StatusOCRInProgress, StatusOCRDone, StatusLLMInProgress}
