// Package ingest registers receipt files from the filesystem so the
// pipeline can pick them up.
package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pantrybot/receipt-pipeline/constants"
	"github.com/pantrybot/receipt-pipeline/internal/cache"
	"github.com/pantrybot/receipt-pipeline/internal/repository"
)

// FileValidator matches the upload validator's contract.
type FileValidator interface {
	Validate(path string) error
}

// FileResult describes the outcome for one scanned file.
type FileResult struct {
	Path         string
	ReceiptID    int64
	HashHex      string
	Deduplicated bool
	Err          string
}

// DirStats aggregates one directory scan.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Ingestor walks directories and creates receipt rows for the valid files
// it finds. Files with identical content are registered once per scan.
type Ingestor struct {
	repo   repository.ReceiptRepository
	files  FileValidator
	logger *slog.Logger
}

func NewIngestor(repo repository.ReceiptRepository, files FileValidator, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{repo: repo, files: files, logger: logger}
}

// IngestDirectory walks root, skipping hidden entries, and registers every
// file with an allowed extension. One bad file never aborts the walk.
func (g *Ingestor) IngestDirectory(ctx context.Context, root string) ([]FileResult, DirStats, error) {
	var (
		results []FileResult
		stats   DirStats
		seen    = map[string]int64{} // content hash -> receipt id within this scan
	)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if isHidden(d.Name()) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ext := constants.NormalizeExt(filepath.Ext(path))
		if _, ok := constants.AllowedExtensions[ext]; !ok {
			return nil
		}
		stats.Matched++

		result := g.ingestFile(ctx, path, seen)
		results = append(results, result)
		switch {
		case result.Err != "":
			stats.Failed++
		case result.Deduplicated:
			stats.Deduplicated++
		default:
			stats.Succeeded++
		}
		return nil
	})
	if err != nil {
		return results, stats, err
	}

	g.logger.Info("ingest.directory.done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed,
	)
	return results, stats, nil
}

func (g *Ingestor) ingestFile(ctx context.Context, path string, seen map[string]int64) FileResult {
	if err := g.files.Validate(path); err != nil {
		g.logger.Warn("ingest.file.rejected", "path", path, "error", err)
		return FileResult{Path: path, Err: err.Error()}
	}

	hashHex, err := cache.FileHash(path)
	if err != nil {
		return FileResult{Path: path, Err: err.Error()}
	}
	if id, ok := seen[hashHex]; ok {
		g.logger.Info("ingest.file.deduplicated", "path", path, "receipt_id", id)
		return FileResult{Path: path, ReceiptID: id, HashHex: hashHex, Deduplicated: true}
	}

	receipt, err := g.repo.Create(ctx, path)
	if err != nil {
		return FileResult{Path: path, HashHex: hashHex, Err: err.Error()}
	}
	seen[hashHex] = receipt.ID

	g.logger.Info("ingest.file.ok", "path", path, "receipt_id", receipt.ID)
	return FileResult{Path: path, ReceiptID: receipt.ID, HashHex: hashHex}
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
