package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrybot/receipt-pipeline/internal/common"
	"github.com/pantrybot/receipt-pipeline/internal/entity"
)

// fakeRunner records commands and serves canned responses keyed by binary name.
type fakeRunner struct {
	calls   [][]string
	outputs map[string][]byte
	errs    map[string]error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if err, ok := f.errs[name]; ok && err != nil {
		return nil, []byte("boom"), err
	}
	return f.outputs[name], nil, nil
}

func newTestExtractor(r Runner) *Extractor {
	e := NewExtractor(Config{Languages: []string{"pol", "eng"}}, nil, nil)
	e.runner = r
	e.engine.runner = r
	return e
}

// memCache is an in-memory Cache for exercising the content-addressed path.
type memCache struct{ ocr map[string]string }

func newMemCache() *memCache { return &memCache{ocr: map[string]string{}} }

func (m *memCache) GetOCR(fileHash string) (string, bool) {
	text, ok := m.ocr[fileHash]
	return text, ok
}
func (m *memCache) PutOCR(fileHash, text string)                     { m.ocr[fileHash] = text }
func (m *memCache) GetProducts(string) ([]entity.ProductEntry, bool) { return nil, false }
func (m *memCache) PutProducts(string, []entity.ProductEntry)        {}
func (m *memCache) Close() error                                     { return nil }

func TestExtractImageRunsTesseract(t *testing.T) {
	r := &fakeRunner{outputs: map[string][]byte{
		"tesseract": []byte("LIDL\nMleko   3,49\n\n\n\nSUMA 3,49\n"),
	}}
	e := newTestExtractor(r)

	text, err := e.Extract(context.Background(), "/tmp/receipt.jpg")
	require.NoError(t, err)
	assert.Equal(t, "LIDL\nMleko 3,49\n\nSUMA 3,49", text)

	// first call probes the engine, second does the OCR
	require.Len(t, r.calls, 2)
	assert.Equal(t, []string{"tesseract", "--version"}, r.calls[0])
	assert.Equal(t, []string{"tesseract", "/tmp/receipt.jpg", "stdout", "-l", "pol+eng"}, r.calls[1])
}

func TestExtractImageEmptyResultIsNotAnError(t *testing.T) {
	r := &fakeRunner{outputs: map[string][]byte{"tesseract": []byte("  \n\n ")}}
	e := newTestExtractor(r)

	text, err := e.Extract(context.Background(), "/tmp/blank.png")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractImageEngineUnavailable(t *testing.T) {
	r := &fakeRunner{errs: map[string]error{"tesseract": errors.New("executable file not found")}}
	e := newTestExtractor(r)

	_, err := e.Extract(context.Background(), "/tmp/receipt.jpg")
	require.Error(t, err)
	var ocrErr *common.OCRError
	require.True(t, errors.As(err, &ocrErr))
	assert.Equal(t, "/tmp/receipt.jpg", ocrErr.Path)

	// availability result is remembered, the probe runs only once
	_, err = e.Extract(context.Background(), "/tmp/receipt.jpg")
	require.Error(t, err)
	probes := 0
	for _, call := range r.calls {
		if len(call) == 2 && call[1] == "--version" {
			probes++
		}
	}
	assert.Equal(t, 1, probes)
}

func TestExtractServesRepeatedFileFromCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receipt.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))

	r := &fakeRunner{outputs: map[string][]byte{"tesseract": []byte("LIDL\nSUMA 3,49")}}
	e := NewExtractor(Config{}, newMemCache(), nil)
	e.runner = r
	e.engine.runner = r

	first, err := e.Extract(context.Background(), path)
	require.NoError(t, err)
	second, err := e.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ocrRuns := 0
	for _, call := range r.calls {
		if call[0] == "tesseract" && len(call) > 2 {
			ocrRuns++
		}
	}
	assert.Equal(t, 1, ocrRuns, "second extraction must come from the cache")
}

// ctxSensitiveRunner fails when the caller's context is already done.
type ctxSensitiveRunner struct{ calls int }

func (c *ctxSensitiveRunner) Run(ctx context.Context, _ string, _ ...string) ([]byte, []byte, error) {
	c.calls++
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return []byte("tesseract 5.3.0"), nil, nil
}

func TestEngineProbeSurvivesCanceledFirstCaller(t *testing.T) {
	r := &ctxSensitiveRunner{}
	g := newEngine("tesseract", time.Second, r, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the availability outcome is latched once per process, so a canceled
	// first request must not pin a failure on everyone after it
	require.NoError(t, g.ready(ctx))
	require.NoError(t, g.ready(context.Background()))
	assert.Equal(t, 1, r.calls)
}

func TestExtractUnsupportedExtension(t *testing.T) {
	e := newTestExtractor(&fakeRunner{})
	_, err := e.Extract(context.Background(), "/tmp/receipt.txt")
	var ocrErr *common.OCRError
	require.True(t, errors.As(err, &ocrErr))
	assert.Contains(t, err.Error(), "unsupported extension")
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses spaces within lines", "Mleko    UHT   3,49", "Mleko UHT 3,49"},
		{"keeps line breaks", "LIDL\nMleko 3,49", "LIDL\nMleko 3,49"},
		{"collapses blank runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"strips box noise lines", "LIDL\n--------\nSUMA 9,99", "LIDL\n\nSUMA 9,99"},
		{"form feed becomes newline", "page1\fpage2", "page1\npage2"},
		{"trims", "  \n LIDL \n ", "LIDL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

// pageAwareRunner returns different tesseract output per rasterized page.
type pageAwareRunner struct {
	fakeRunner
	pageOut map[string]string // pdftoppm -f value -> tesseract output
	lastPg  string
}

func (p *pageAwareRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	p.calls = append(p.calls, append([]string{name}, args...))
	switch name {
	case "pdftoppm":
		p.lastPg = args[1] // value after -f
		return nil, nil, nil
	case "tesseract":
		if len(args) == 2 && args[1] == "--version" {
			return []byte("tesseract 5.3.0"), nil, nil
		}
		return []byte(p.pageOut[p.lastPg]), nil, nil
	}
	return nil, nil, fmt.Errorf("unexpected command %s", name)
}

func TestOCRPDFPagesRasterizesOnlyRequestedPages(t *testing.T) {
	r := &pageAwareRunner{pageOut: map[string]string{"2": "scanned page two"}}
	e := newTestExtractor(&r.fakeRunner)
	e.runner = r
	e.engine.runner = r

	// three-page document where only page 2 (index 1) lacks a text layer;
	// the glob finds no real PNG so the page is skipped with a warning,
	// which is the degradation we want when rasterization silently fails.
	texts := []string{"digital page one", "", "digital page three"}
	err := e.ocrPDFPages(context.Background(), "/tmp/doc.pdf", []int{1}, texts)
	require.NoError(t, err)

	var rasterized []string
	for _, call := range r.calls {
		if call[0] == "pdftoppm" {
			rasterized = append(rasterized, strings.Join(call[1:3], " "))
		}
	}
	assert.Equal(t, []string{"-f 2"}, rasterized)
}
