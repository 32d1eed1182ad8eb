package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pantrybot/receipt-pipeline/internal/cache"
	"github.com/pantrybot/receipt-pipeline/internal/common"
	"github.com/pantrybot/receipt-pipeline/internal/entity"
)

// Service implements ProductExtractor on top of a ChatClient with caching
// and retries. Empty input short-circuits to an empty result without
// touching the model.
type Service struct {
	client     ChatClient
	cache      cache.Cache
	model      string
	maxRetries int
	logger     *slog.Logger
}

func NewService(client ChatClient, c cache.Cache, model string, maxRetries int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.Disabled()
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Service{client: client, cache: c, model: model, maxRetries: maxRetries, logger: logger}
}

func (s *Service) ExtractProducts(ctx context.Context, receiptText string) ([]entity.ProductEntry, error) {
	if strings.TrimSpace(receiptText) == "" {
		s.logger.Warn("llm.extract.empty_input")
		return []entity.ProductEntry{}, nil
	}

	textHash := cache.TextHash(receiptText)
	if products, ok := s.cache.GetProducts(textHash); ok {
		s.logger.Info("llm.extract.cache_hit", "text_hash", textHash[:8], "products", len(products))
		return products, nil
	}

	prompt := BuildExtractionPrompt(receiptText)
	start := time.Now()
	s.logger.Info("llm.extract.start", "model", s.model, "text_len", len(receiptText))

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := s.client.Health(ctx); err != nil {
			s.logger.Error("llm.extract.backend_unavailable", "attempt", attempt, "error", err)
			return nil, &common.LLMError{Model: s.model, Err: fmt.Errorf("backend unavailable: %w", err)}
		}

		response, err := s.client.Chat(ctx, prompt)
		if err != nil {
			lastErr = err
			s.logger.Warn("llm.extract.attempt_failed", "attempt", attempt, "max", s.maxRetries, "error", err)
			continue
		}

		products, err := ParseProducts(response, s.logger)
		if err != nil {
			lastErr = err
			s.logger.Warn("llm.extract.parse_failed", "attempt", attempt, "max", s.maxRetries, "error", err)
			continue
		}
		products = FilterBySchema(products, s.logger)

		if len(products) > 0 {
			s.cache.PutProducts(textHash, products)
		}
		s.logger.Info("llm.extract.ok",
			"model", s.model,
			"attempt", attempt,
			"products", len(products),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return products, nil
	}

	return nil, &common.LLMError{
		Model: s.model,
		Err:   fmt.Errorf("extraction failed after %d attempts: %w", s.maxRetries, lastErr),
	}
}
