package filecheck

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pantrybot/receipt-pipeline/constants"
	"github.com/pantrybot/receipt-pipeline/internal/common"
)

// Config holds upload validation limits.
type Config struct {
	MaxFileSize       int64
	AllowedExtensions map[string]struct{}
	AllowedMIMETypes  map[string]struct{}
}

// Validator rejects uploads before any processing happens. The content type
// is sniffed from magic bytes, never trusted from the file name.
type Validator struct {
	cfg    Config
	logger *slog.Logger
}

func NewValidator(cfg Config, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 << 20
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = constants.AllowedExtensions
	}
	if len(cfg.AllowedMIMETypes) == 0 {
		cfg.AllowedMIMETypes = constants.AllowedMIMETypes
	}
	return &Validator{cfg: cfg, logger: logger}
}

// Validate returns a *common.FileValidationError when the file must not
// enter the pipeline, nil otherwise.
func (v *Validator) Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &common.FileValidationError{Path: path, Reason: "file does not exist"}
		}
		return &common.FileValidationError{Path: path, Reason: "file not accessible", Err: err}
	}
	if info.IsDir() {
		return &common.FileValidationError{Path: path, Reason: "path is a directory"}
	}

	size := info.Size()
	if size == 0 {
		return &common.FileValidationError{Path: path, Reason: "file is empty"}
	}
	if size > v.cfg.MaxFileSize {
		return &common.FileValidationError{
			Path:   path,
			Reason: fmt.Sprintf("file size %d exceeds maximum %d", size, v.cfg.MaxFileSize),
		}
	}

	ext := constants.NormalizeExt(filepath.Ext(path))
	if _, ok := v.cfg.AllowedExtensions[ext]; !ok {
		return &common.FileValidationError{
			Path:   path,
			Reason: fmt.Sprintf("extension %q not allowed", ext),
		}
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return &common.FileValidationError{Path: path, Reason: "could not detect content type", Err: err}
	}
	detected := mtype.String()
	if _, ok := v.cfg.AllowedMIMETypes[detected]; !ok {
		return &common.FileValidationError{
			Path:   path,
			Reason: fmt.Sprintf("detected content type %q not allowed", detected),
		}
	}

	v.logger.Debug("file validated", "path", path, "size", size, "mime", detected)
	return nil
}
