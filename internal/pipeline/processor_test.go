package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrybot/receipt-pipeline/constants"
	"github.com/pantrybot/receipt-pipeline/internal/common"
	"github.com/pantrybot/receipt-pipeline/internal/entity"
	"github.com/pantrybot/receipt-pipeline/internal/llm"
	"github.com/pantrybot/receipt-pipeline/internal/monitoring"
	"github.com/pantrybot/receipt-pipeline/internal/validate"
)

// fakeRepo is an in-memory ReceiptRepository that records every status a
// receipt passes through.
type fakeRepo struct {
	mu       sync.Mutex
	receipts map[int64]*entity.Receipt
	history  map[int64][]constants.ReceiptStatus
	failOps  map[string]error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		receipts: map[int64]*entity.Receipt{},
		history:  map[int64][]constants.ReceiptStatus{},
		failOps:  map[string]error{},
	}
}

func (f *fakeRepo) add(id int64, path string) {
	f.receipts[id] = &entity.Receipt{ID: id, Status: constants.StatusUploaded, FilePath: path}
}

func (f *fakeRepo) setStatus(id int64, status constants.ReceiptStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[id].Status = status
	f.history[id] = append(f.history[id], status)
}

func (f *fakeRepo) Create(_ context.Context, path string) (*entity.Receipt, error) {
	panic("not used")
}

func (f *fakeRepo) GetByID(_ context.Context, id int64) (*entity.Receipt, error) {
	if err := f.failOps["get"]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[id]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id int64, status constants.ReceiptStatus, msg string) error {
	if err := f.failOps["update_status"]; err != nil {
		return err
	}
	f.setStatus(id, status)
	if msg != "" {
		f.mu.Lock()
		f.receipts[id].ErrorMessage = &msg
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeRepo) ClaimForProcessing(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[id]
	if !ok {
		return false, nil
	}
	if r.Status.InProgress() {
		return false, nil
	}
	r.Status = constants.StatusOCRInProgress
	f.history[id] = append(f.history[id], constants.StatusOCRInProgress)
	return true, nil
}

func (f *fakeRepo) UpdateOCRResult(_ context.Context, id int64, text string) error {
	if err := f.failOps["update_ocr"]; err != nil {
		return err
	}
	f.mu.Lock()
	f.receipts[id].RawOCRText = &text
	f.mu.Unlock()
	f.setStatus(id, constants.StatusOCRDone)
	return nil
}

func (f *fakeRepo) UpdateExtractionResult(_ context.Context, id int64, products []entity.ProductEntry) error {
	if err := f.failOps["update_extraction"]; err != nil {
		return err
	}
	f.mu.Lock()
	f.receipts[id].ExtractedData = products
	f.mu.Unlock()
	f.setStatus(id, constants.StatusReadyForReview)
	return nil
}

func (f *fakeRepo) MarkCompleted(_ context.Context, id int64) error {
	f.setStatus(id, constants.StatusCompleted)
	return nil
}

func (f *fakeRepo) MarkError(_ context.Context, id int64, message string) error {
	if err := f.failOps["mark_error"]; err != nil {
		return err
	}
	f.setStatus(id, constants.StatusError)
	f.mu.Lock()
	f.receipts[id].ErrorMessage = &message
	f.mu.Unlock()
	return nil
}

func (f *fakeRepo) BulkUpdateStatus(_ context.Context, ids []int64, status constants.ReceiptStatus) (int64, error) {
	for _, id := range ids {
		f.setStatus(id, status)
	}
	return int64(len(ids)), nil
}

func (f *fakeRepo) ListByStatus(_ context.Context, status constants.ReceiptStatus, _ int) ([]*entity.Receipt, error) {
	var out []*entity.Receipt
	for _, r := range f.receipts {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListRecent(_ context.Context, _ int) ([]*entity.Receipt, error) { return nil, nil }

func (f *fakeRepo) Statistics(_ context.Context) (*entity.Statistics, error) { return nil, nil }

type fakeFileValidator struct{ err error }

func (f fakeFileValidator) Validate(string) error { return f.err }

type fakeOCR struct {
	text  string
	err   error
	calls int32
}

func (f *fakeOCR) Extract(_ context.Context, _ string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.text, f.err
}

type fakeExtractor struct {
	products []entity.ProductEntry
	err      error
	calls    int32
}

func (f *fakeExtractor) ExtractProducts(_ context.Context, _ string) ([]entity.ProductEntry, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.products, f.err
}

func prods(names ...string) []entity.ProductEntry {
	out := make([]entity.ProductEntry, 0, len(names))
	for _, n := range names {
		out = append(out, entity.ProductEntry{Name: n, Quantity: 1, Unit: entity.DefaultUnit})
	}
	return out
}

func newProcessor(repo *fakeRepo, files FileValidator, ocr TextExtractor, ex llm.ProductExtractor, opts Options) *Processor {
	return NewProcessor(repo, files, ocr, ex, validate.NewValidator(nil), nil,
		monitoring.NewMonitor(true), opts, nil)
}

func TestProcessReceiptSuccess(t *testing.T) {
	repo := newFakeRepo()
	repo.add(1, "/tmp/receipt.png")
	ocr := &fakeOCR{text: "LIDL\nMleko 3,49\nSUMA 3,49"}
	ex := &fakeExtractor{products: prods("Mleko")}

	p := newProcessor(repo, fakeFileValidator{}, ocr, ex, Options{EnableValidation: true})
	ok := p.ProcessReceipt(context.Background(), 1)

	require.True(t, ok)
	r := repo.receipts[1]
	assert.Equal(t, constants.StatusReadyForReview, r.Status)
	require.NotNil(t, r.RawOCRText)
	assert.NotEmpty(t, r.ExtractedData)
	assert.Nil(t, r.ErrorMessage)
}

func TestProcessReceiptStatusMovesForwardOnly(t *testing.T) {
	repo := newFakeRepo()
	repo.add(1, "/tmp/receipt.png")
	ocr := &fakeOCR{text: "LIDL\nMleko 3,49\nSUMA 3,49"}
	ex := &fakeExtractor{products: prods("Mleko")}

	p := newProcessor(repo, fakeFileValidator{}, ocr, ex, Options{})
	require.True(t, p.ProcessReceipt(context.Background(), 1))

	history := repo.history[1]
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		prev, cur := constants.PipelineOrder(history[i-1]), constants.PipelineOrder(history[i])
		assert.Greater(t, cur, prev, "status regressed: %v", history)
	}
}

func TestProcessReceiptMissingReceipt(t *testing.T) {
	repo := newFakeRepo()
	p := newProcessor(repo, fakeFileValidator{}, &fakeOCR{}, &fakeExtractor{}, Options{})
	assert.False(t, p.ProcessReceipt(context.Background(), 42))
}

func TestProcessReceiptFileValidationFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.add(1, "/tmp/too-big.png")
	fv := fakeFileValidator{err: &common.FileValidationError{Path: "/tmp/too-big.png", Reason: "file size 99 exceeds maximum 10"}}
	ocr := &fakeOCR{text: "whatever"}

	p := newProcessor(repo, fv, ocr, &fakeExtractor{}, Options{})
	assert.False(t, p.ProcessReceipt(context.Background(), 1))

	r := repo.receipts[1]
	assert.Equal(t, constants.StatusError, r.Status)
	require.NotNil(t, r.ErrorMessage)
	assert.True(t, strings.HasPrefix(*r.ErrorMessage, "File validation error: "), *r.ErrorMessage)
	assert.Zero(t, ocr.calls)
}

func TestProcessReceiptEmptyOCRFails(t *testing.T) {
	// Scenario: corrupted image yields empty text. The receipt errors out
	// with a text-extraction message and the extraction stage never runs.
	repo := newFakeRepo()
	repo.add(1, "/tmp/corrupted.png")
	ocr := &fakeOCR{text: ""}
	ex := &fakeExtractor{products: prods("Mleko")}

	p := newProcessor(repo, fakeFileValidator{}, ocr, ex, Options{})
	assert.False(t, p.ProcessReceipt(context.Background(), 1))

	r := repo.receipts[1]
	assert.Equal(t, constants.StatusError, r.Status)
	require.NotNil(t, r.ErrorMessage)
	assert.True(t, strings.HasPrefix(*r.ErrorMessage, "OCR error: "), *r.ErrorMessage)
	assert.Contains(t, *r.ErrorMessage, "no text")
	assert.Zero(t, ex.calls, "LLM must not be called after an OCR failure")
}

func TestProcessReceiptLLMFailureKeepsOCRText(t *testing.T) {
	// Scenario: extraction backend unreachable. The receipt errors out but
	// the OCR text persisted by the earlier stage survives.
	repo := newFakeRepo()
	repo.add(1, "/tmp/receipt.png")
	ocr := &fakeOCR{text: "LIDL\nMleko 3,49\nSUMA 3,49"}
	ex := &fakeExtractor{err: &common.LLMError{Model: "qwen2:7b", Err: errors.New("backend unavailable: connection refused")}}

	p := newProcessor(repo, fakeFileValidator{}, ocr, ex, Options{})
	assert.False(t, p.ProcessReceipt(context.Background(), 1))

	r := repo.receipts[1]
	assert.Equal(t, constants.StatusError, r.Status)
	require.NotNil(t, r.ErrorMessage)
	assert.True(t, strings.HasPrefix(*r.ErrorMessage, "LLM error: "), *r.ErrorMessage)
	require.NotNil(t, r.RawOCRText, "OCR text from the successful stage must remain persisted")
	assert.Contains(t, *r.RawOCRText, "Mleko")
}

func TestProcessReceiptNoProductsIsLLMFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.add(1, "/tmp/receipt.png")
	ocr := &fakeOCR{text: "LIDL\nSUMA 0,00"}
	ex := &fakeExtractor{products: nil}

	p := newProcessor(repo, fakeFileValidator{}, ocr, ex, Options{})
	assert.False(t, p.ProcessReceipt(context.Background(), 1))

	r := repo.receipts[1]
	require.NotNil(t, r.ErrorMessage)
	assert.True(t, strings.HasPrefix(*r.ErrorMessage, "LLM error: "), *r.ErrorMessage)
}

func TestProcessReceiptDatabaseFailureRecorded(t *testing.T) {
	repo := newFakeRepo()
	repo.add(1, "/tmp/receipt.png")
	repo.failOps["update_ocr"] = &common.DatabaseError{ReceiptID: 1, Op: "update_ocr_result", Err: errors.New("connection reset")}
	ocr := &fakeOCR{text: "LIDL\nMleko 3,49"}

	p := newProcessor(repo, fakeFileValidator{}, ocr, &fakeExtractor{products: prods("Mleko")}, Options{})
	assert.False(t, p.ProcessReceipt(context.Background(), 1))

	r := repo.receipts[1]
	require.NotNil(t, r.ErrorMessage)
	assert.True(t, strings.HasPrefix(*r.ErrorMessage, "Database error: "), *r.ErrorMessage)
}

func TestProcessReceiptSecondClaimLoses(t *testing.T) {
	repo := newFakeRepo()
	repo.add(1, "/tmp/receipt.png")
	repo.receipts[1].Status = constants.StatusOCRInProgress

	p := newProcessor(repo, fakeFileValidator{}, &fakeOCR{text: "x"}, &fakeExtractor{}, Options{})
	assert.False(t, p.ProcessReceipt(context.Background(), 1))
}

func TestBatchProcessBoundedConcurrency(t *testing.T) {
	// Scenario: 10 receipts, cap 3, 2 of them failing. All 10 get results.
	repo := newFakeRepo()
	failing := map[int64]bool{3: true, 7: true}
	for id := int64(1); id <= 10; id++ {
		if failing[id] {
			repo.add(id, "/tmp/broken.png")
		} else {
			repo.add(id, "/tmp/receipt.png")
		}
	}

	ex := &countingExtractor{}
	p := newProcessor(repo, fakeFileValidator{}, pathEchoOCR{}, ex, Options{MaxConcurrent: 3})
	results := p.BatchProcess(context.Background(), []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	require.Len(t, results, 10)
	for id, ok := range results {
		assert.Equal(t, !failing[id], ok, "receipt %d", id)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&ex.peak), int32(3), "concurrency cap exceeded")
}

// pathEchoOCR returns the file path as the extracted text so downstream
// fakes can make per-receipt decisions.
type pathEchoOCR struct{}

func (pathEchoOCR) Extract(_ context.Context, path string) (string, error) { return path, nil }

// countingExtractor tracks peak concurrency and fails receipts whose text
// marks them broken.
type countingExtractor struct {
	current int32
	peak    int32
}

func (c *countingExtractor) ExtractProducts(_ context.Context, text string) ([]entity.ProductEntry, error) {
	cur := atomic.AddInt32(&c.current, 1)
	defer atomic.AddInt32(&c.current, -1)
	for {
		old := atomic.LoadInt32(&c.peak)
		if cur <= old || atomic.CompareAndSwapInt32(&c.peak, old, cur) {
			break
		}
	}

	if strings.Contains(text, "broken") {
		return nil, &common.LLMError{Err: errors.New("synthetic failure")}
	}
	return prods("Mleko"), nil
}
