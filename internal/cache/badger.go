package cache

import (
	"encoding/json"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/pantrybot/receipt-pipeline/internal/entity"
)

// BadgerCache is a disk-backed Cache with per-class TTLs. OCR results live
// longer than extraction results because the OCR engine changes less often
// than the prompt or the model.
type BadgerCache struct {
	db     *badger.DB
	ocrTTL time.Duration
	llmTTL time.Duration
	logger *slog.Logger
}

type Options struct {
	Dir    string
	OCRTTL time.Duration
	LLMTTL time.Duration
}

func NewBadgerCache(opts Options, logger *slog.Logger) (*BadgerCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	badgerOpts := badger.DefaultOptions(opts.Dir).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	if opts.OCRTTL <= 0 {
		opts.OCRTTL = 7 * 24 * time.Hour
	}
	if opts.LLMTTL <= 0 {
		opts.LLMTTL = 24 * time.Hour
	}
	return &BadgerCache{db: db, ocrTTL: opts.OCRTTL, llmTTL: opts.LLMTTL, logger: logger}, nil
}

func (c *BadgerCache) GetOCR(fileHash string) (string, bool) {
	data, ok := c.get(ocrKeyPrefix + fileHash)
	if !ok {
		return "", false
	}
	return string(data), true
}

func (c *BadgerCache) PutOCR(fileHash, text string) {
	c.put(ocrKeyPrefix+fileHash, []byte(text), c.ocrTTL)
}

func (c *BadgerCache) GetProducts(textHash string) ([]entity.ProductEntry, bool) {
	data, ok := c.get(llmKeyPrefix + textHash)
	if !ok {
		return nil, false
	}
	var products []entity.ProductEntry
	if err := json.Unmarshal(data, &products); err != nil {
		c.logger.Warn("cache entry corrupt, treating as miss", "key_prefix", llmKeyPrefix, "error", err)
		return nil, false
	}
	return products, true
}

func (c *BadgerCache) PutProducts(textHash string, products []entity.ProductEntry) {
	data, err := json.Marshal(products)
	if err != nil {
		c.logger.Warn("cache marshal failed, skipping store", "error", err)
		return
	}
	c.put(llmKeyPrefix+textHash, data, c.llmTTL)
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func (c *BadgerCache) get(key string) ([]byte, bool) {
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if err != badger.ErrKeyNotFound {
			c.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		}
		return nil, false
	}
	return out, true
}

func (c *BadgerCache) put(key string, value []byte, ttl time.Duration) {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.logger.Warn("cache write failed, continuing without cache", "key", key, "error", err)
	}
}
