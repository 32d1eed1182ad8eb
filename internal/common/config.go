package common

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	File       FileConfig
	OCR        OCRConfig
	LLM        LLMConfig
	Cache      CacheConfig
	Processing ProcessingConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// FileConfig holds upload validation configuration
type FileConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
	AllowedMIMETypes  []string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract   string
	Pdftoppm    string
	Languages   []string // tesseract language codes, e.g. pol, eng
	DPI         int
	MaxPages    int
	InitTimeout time.Duration
}

// LLMConfig holds configuration for the model-serving endpoint
type LLMConfig struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// CacheConfig holds content-addressed cache configuration
type CacheConfig struct {
	Enabled bool
	Dir     string
	OCRTTL  time.Duration
	LLMTTL  time.Duration
}

// ProcessingConfig holds orchestration configuration
type ProcessingConfig struct {
	MaxConcurrent               int
	EnablePerformanceMonitoring bool
	EnableValidation            bool
}

// LoadConfig loads configuration from environment variables, reading a .env
// file first when one is present.
func LoadConfig() *Config {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded environment from .env file")
	}

	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		File: FileConfig{
			MaxFileSize:       getEnvAsInt64("MAX_RECEIPT_FILE_SIZE", 10<<20),
			AllowedExtensions: getEnvAsSlice("RECEIPT_ALLOWED_EXTENSIONS", nil),
			AllowedMIMETypes:  getEnvAsSlice("RECEIPT_ALLOWED_MIME_TYPES", nil),
		},
		OCR: OCRConfig{
			Tesseract:   getEnv("TESSERACT_BIN", "tesseract"),
			Pdftoppm:    getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Languages:   getEnvAsSlice("OCR_LANGUAGES", []string{"pol", "eng"}),
			DPI:         getEnvAsInt("OCR_DPI", 300),
			MaxPages:    getEnvAsInt("OCR_MAX_PAGES", 10),
			InitTimeout: getEnvAsDuration("OCR_INIT_TIMEOUT", 30*time.Second),
		},
		LLM: LLMConfig{
			BaseURL:    getEnv("RECEIPT_LLM_URL", "http://127.0.0.1:11434"),
			Model:      getEnv("RECEIPT_LLM_MODEL", "qwen2:7b"),
			Timeout:    getEnvAsDuration("RECEIPT_LLM_TIMEOUT", 180*time.Second),
			MaxRetries: getEnvAsInt("RECEIPT_LLM_MAX_RETRIES", 2),
		},
		Cache: CacheConfig{
			Enabled: getEnvAsBool("RECEIPT_CACHE_ENABLED", true),
			Dir:     getEnv("RECEIPT_CACHE_DIR", "./tmp/cache"),
			OCRTTL:  getEnvAsDuration("OCR_CACHE_TTL", 7*24*time.Hour),
			LLMTTL:  getEnvAsDuration("RECEIPT_CACHE_TTL", 24*time.Hour),
		},
		Processing: ProcessingConfig{
			MaxConcurrent:               getEnvAsInt("RECEIPT_MAX_CONCURRENT", 3),
			EnablePerformanceMonitoring: getEnvAsBool("RECEIPT_PERF_MONITORING", true),
			EnableValidation:            getEnvAsBool("RECEIPT_VALIDATION_ENABLED", true),
		},
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_URL is required")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("RECEIPT_LLM_URL is required")
	}
	if c.Processing.MaxConcurrent < 1 {
		return fmt.Errorf("RECEIPT_MAX_CONCURRENT must be at least 1")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
