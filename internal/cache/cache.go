package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/pantrybot/receipt-pipeline/internal/entity"
)

// Cache stores OCR text keyed by file content and extracted products keyed
// by OCR text. Lookups and stores never return errors: a broken cache
// degrades to recomputation, it must not fail the pipeline.
type Cache interface {
	GetOCR(fileHash string) (string, bool)
	PutOCR(fileHash, text string)
	GetProducts(textHash string) ([]entity.ProductEntry, bool)
	PutProducts(textHash string, products []entity.ProductEntry)
	Close() error
}

const (
	ocrKeyPrefix = "ocr:"
	llmKeyPrefix = "llm:"
)

// FileHash returns the hex SHA-256 of the file contents, streaming so large
// PDFs never load fully into memory.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TextHash returns the hex SHA-256 of a text blob.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Disabled returns a no-op Cache for when caching is turned off.
func Disabled() Cache { return disabledCache{} }

type disabledCache struct{}

func (disabledCache) GetOCR(string) (string, bool)                     { return "", false }
func (disabledCache) PutOCR(string, string)                            {}
func (disabledCache) GetProducts(string) ([]entity.ProductEntry, bool) { return nil, false }
func (disabledCache) PutProducts(string, []entity.ProductEntry)        {}
func (disabledCache) Close() error                                     { return nil }
