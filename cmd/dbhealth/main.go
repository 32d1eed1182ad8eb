// dbhealth pings the database and prints receipt statistics.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/pantrybot/receipt-pipeline/internal/common"
	"github.com/pantrybot/receipt-pipeline/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		logger.Error("DB_URL required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := repository.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := repository.NewPostgresReceiptRepository(pool, logger)
	stats, err := repo.Statistics(ctx)
	if err != nil {
		logger.Error("statistics query failed", "error", err)
		os.Exit(1)
	}

	logger.Info("database healthy",
		"total", stats.Total,
		"pending", stats.Pending,
		"ready_for_review", stats.ReadyForReview,
		"completed", stats.Completed,
		"errors", stats.Errors,
		"success_rate", stats.SuccessRate,
	)
	for status, count := range stats.ByStatus {
		logger.Info("status count", "status", status, "count", count)
	}
}
